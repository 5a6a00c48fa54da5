// Package gate is a registry of authorization policies keyed by resource type.
// It has no dependency on domain models; U is whatever identifies the caller.
package gate

import "context"

// Gate is the central authorization checkpoint.
// U must be comparable; its zero value means "no caller".
type Gate[U comparable] struct {
	policies map[string]Policy[U]
}

func NewGate[U comparable]() *Gate[U] {
	return &Gate[U]{policies: make(map[string]Policy[U])}
}

// Register sets the policy for a resource type, replacing any previous one.
func (g *Gate[U]) Register(resourceType string, p Policy[U]) {
	g.policies[resourceType] = p
}

// Authorize returns ErrUnauthorized for a zero caller, ErrNoPolicyDefined for an
// unknown resource type and ErrForbidden when the policy denies the action.
func (g *Gate[U]) Authorize(ctx context.Context, user U, action Action, resourceType string, resource any) error {
	var zero U
	if user == zero {
		return ErrUnauthorized
	}
	p, ok := g.policies[resourceType]
	if !ok {
		return ErrNoPolicyDefined
	}
	if !p.Can(ctx, user, action, resource) {
		return ErrForbidden
	}
	return nil
}

func (g *Gate[U]) Can(ctx context.Context, user U, action Action, resourceType string, resource any) bool {
	return g.Authorize(ctx, user, action, resourceType, resource) == nil
}
