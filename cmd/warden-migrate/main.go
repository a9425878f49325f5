package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/wardenhq/warden/pkg/storage"
)

var (
	dbURL   = flag.String("db-url", getEnv("WARDEN_DATABASE_URL", "postgres://localhost/warden?sslmode=disable"), "Database connection URL")
	timeout = flag.Duration("timeout", 2*time.Minute, "Overall migration timeout")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := storage.Open(storage.Config{URL: *dbURL})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("Running migrations...")
	if err := storage.RunMigrations(ctx, db, storage.DialectPostgres); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Migrations complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
