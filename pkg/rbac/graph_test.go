package rbac

import (
	"context"
	"fmt"
	"testing"

	"github.com/wardenhq/warden/pkg/audit"
	"github.com/wardenhq/warden/pkg/errdefs"
)

func TestChain(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.createTenant(t, "acme")
	ctx := context.Background()

	admin := env.createRole(t, tenant, "ADMIN", 100, nil)
	editor := env.createRole(t, tenant, "EDITOR", 50, &admin.ID)
	author := env.createRole(t, tenant, "AUTHOR", 10, &editor.ID)

	t.Run("ordered child to root", func(t *testing.T) {
		chain, err := env.engine.Store().Chain(ctx, env.db, author.ID)
		if err != nil {
			t.Fatalf("Chain() error = %v", err)
		}
		var codes []string
		for _, r := range chain {
			codes = append(codes, r.Code)
		}
		want := []string{"AUTHOR", "EDITOR", "ADMIN"}
		if len(codes) != len(want) {
			t.Fatalf("chain = %v, want %v", codes, want)
		}
		for i := range want {
			if codes[i] != want[i] {
				t.Fatalf("chain = %v, want %v", codes, want)
			}
		}
	})

	t.Run("disabled ancestor ends chain before itself", func(t *testing.T) {
		if err := env.engine.SetRoleEnabled(opCtx(BusinessTypeRole, audit.OpUpdate), editor.ID, false); err != nil {
			t.Fatalf("SetRoleEnabled() error = %v", err)
		}
		chain, err := env.engine.Store().Chain(ctx, env.db, author.ID)
		if err != nil {
			t.Fatalf("Chain() error = %v", err)
		}
		if len(chain) != 1 || chain[0].Code != "AUTHOR" {
			t.Errorf("expected chain cut at AUTHOR, got %+v", chain)
		}
		if err := env.engine.SetRoleEnabled(opCtx(BusinessTypeRole, audit.OpUpdate), editor.ID, true); err != nil {
			t.Fatalf("re-enabling: %v", err)
		}
	})

	t.Run("disabled starting role yields empty chain", func(t *testing.T) {
		if err := env.engine.SetRoleEnabled(opCtx(BusinessTypeRole, audit.OpUpdate), author.ID, false); err != nil {
			t.Fatalf("SetRoleEnabled() error = %v", err)
		}
		chain, err := env.engine.Store().Chain(ctx, env.db, author.ID)
		if err != nil {
			t.Fatalf("Chain() error = %v", err)
		}
		if len(chain) != 0 {
			t.Errorf("expected empty chain, got %+v", chain)
		}
	})

	t.Run("missing role yields empty chain", func(t *testing.T) {
		chain, err := env.engine.Store().Chain(ctx, env.db, 9999)
		if err != nil {
			t.Fatalf("Chain() error = %v", err)
		}
		if len(chain) != 0 {
			t.Errorf("expected empty chain, got %+v", chain)
		}
	})
}

func TestChain_DepthCap(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.createTenant(t, "acme")
	ctx := context.Background()

	var parent *int64
	var leafID int64
	for i := 0; i < MaxChainDepth+5; i++ {
		role := env.createRole(t, tenant, fmt.Sprintf("LEVEL_%d", i), i, parent)
		parent = &role.ID
		leafID = role.ID
	}

	chain, err := env.engine.Store().Chain(ctx, env.db, leafID)
	if err != nil {
		t.Fatalf("Chain() error = %v", err)
	}
	if len(chain) != MaxChainDepth {
		t.Errorf("expected chain truncated at %d, got %d", MaxChainDepth, len(chain))
	}
}

func TestChain_CycleDetected(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.createTenant(t, "acme")
	ctx := context.Background()

	a := env.createRole(t, tenant, "A", 1, nil)
	b := env.createRole(t, tenant, "B", 2, &a.ID)

	// Close the loop behind the engine's back; the walk must still
	// refuse to spin.
	if _, err := env.db.Exec(`UPDATE roles SET parent_id = $1 WHERE id = $2`, b.ID, a.ID); err != nil {
		t.Fatalf("forcing cycle: %v", err)
	}

	_, err := env.engine.Store().Chain(ctx, env.db, b.ID)
	if !errdefs.IsCycle(err) {
		t.Fatalf("expected CycleError, got %v", err)
	}
}

func TestSetRoleParent(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.createTenant(t, "acme")
	other := env.createTenant(t, "globex")
	ctx := context.Background()

	admin := env.createRole(t, tenant, "ADMIN", 100, nil)
	editor := env.createRole(t, tenant, "EDITOR", 50, &admin.ID)
	author := env.createRole(t, tenant, "AUTHOR", 10, &editor.ID)
	foreign := env.createRole(t, other, "FOREIGN", 1, nil)

	parentCtx := func() context.Context { return opCtx(BusinessTypeRole, audit.OpUpdate) }

	t.Run("self parent rejected", func(t *testing.T) {
		err := env.engine.SetRoleParent(parentCtx(), admin.ID, &admin.ID)
		if !errdefs.IsCycle(err) {
			t.Errorf("expected CycleError, got %v", err)
		}
	})

	t.Run("cycle through descendants rejected", func(t *testing.T) {
		err := env.engine.SetRoleParent(parentCtx(), admin.ID, &author.ID)
		if !errdefs.IsCycle(err) {
			t.Errorf("expected CycleError, got %v", err)
		}

		// Rejection leaves the existing chain untouched.
		role, getErr := env.engine.Store().GetRole(ctx, env.db, admin.ID)
		if getErr != nil {
			t.Fatalf("GetRole() error = %v", getErr)
		}
		if role.ParentID != nil {
			t.Errorf("admin parent changed despite rejection: %v", *role.ParentID)
		}
	})

	t.Run("cross-tenant parent rejected", func(t *testing.T) {
		err := env.engine.SetRoleParent(parentCtx(), author.ID, &foreign.ID)
		if !errdefs.IsTenantMismatch(err) {
			t.Errorf("expected TenantMismatchError, got %v", err)
		}
	})

	t.Run("valid re-parent applies", func(t *testing.T) {
		if err := env.engine.SetRoleParent(parentCtx(), author.ID, &admin.ID); err != nil {
			t.Fatalf("SetRoleParent() error = %v", err)
		}
		role, err := env.engine.Store().GetRole(ctx, env.db, author.ID)
		if err != nil {
			t.Fatalf("GetRole() error = %v", err)
		}
		if role.ParentID == nil || *role.ParentID != admin.ID {
			t.Errorf("parent not updated: %+v", role)
		}
	})

	t.Run("detach to root", func(t *testing.T) {
		if err := env.engine.SetRoleParent(parentCtx(), author.ID, nil); err != nil {
			t.Fatalf("SetRoleParent() error = %v", err)
		}
		role, err := env.engine.Store().GetRole(ctx, env.db, author.ID)
		if err != nil {
			t.Fatalf("GetRole() error = %v", err)
		}
		if role.ParentID != nil {
			t.Errorf("expected nil parent, got %v", *role.ParentID)
		}
	})
}
