package rbac

import (
	"context"

	"github.com/wardenhq/warden/pkg/errdefs"
	"github.com/wardenhq/warden/pkg/storage"
)

// Chain walks the inheritance graph from roleID upward and returns the
// ordered ancestry, the role itself first.
//
// The walk fails closed: a disabled or soft-deleted role ends the chain
// before itself, excluding it and everything above it. Depth is capped at
// MaxChainDepth. Revisiting a role means the graph holds a cycle and
// returns CycleError.
func (s *Store) Chain(ctx context.Context, q storage.Querier, roleID int64) ([]*Role, error) {
	var chain []*Role
	visited := make(map[int64]bool)
	var path []int64

	current := roleID
	for depth := 0; depth < MaxChainDepth; depth++ {
		role, err := s.GetRole(ctx, q, current)
		if errdefs.IsNotFound(err) {
			break
		}
		if err != nil {
			return nil, err
		}
		if !role.IsEnabled {
			break
		}
		if visited[role.ID] {
			return nil, &errdefs.CycleError{RoleID: roleID, Path: path}
		}
		visited[role.ID] = true
		path = append(path, role.ID)
		chain = append(chain, role)

		if role.ParentID == nil {
			break
		}
		current = *role.ParentID
	}
	return chain, nil
}

// checkNoCycle verifies that pointing roleID at parentID keeps the graph
// acyclic. It walks upward from the proposed parent; reaching roleID, or
// revisiting any role, is a cycle. The existing chain is untouched either
// way — the caller only persists the pointer on nil return.
func (s *Store) checkNoCycle(ctx context.Context, q storage.Querier, roleID, parentID int64) error {
	visited := map[int64]bool{roleID: true}
	path := []int64{roleID}

	current := parentID
	for depth := 0; depth < MaxChainDepth; depth++ {
		if visited[current] {
			return &errdefs.CycleError{RoleID: roleID, Path: append(path, current)}
		}
		visited[current] = true
		path = append(path, current)

		role, err := s.GetRole(ctx, q, current)
		if errdefs.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if role.ParentID == nil {
			return nil
		}
		current = *role.ParentID
	}
	return nil
}
