package gate

import "context"

// Policy defines authorization rules for one resource type.
// For list and create, resource may be nil.
type Policy[U any] interface {
	Can(ctx context.Context, user U, action Action, resource any) bool
}

// RolePolicy grants permissions on one resource type by caller role.
type RolePolicy[U any] struct {
	resourceType string
	roleOf       func(U) string
	grants       map[string][]Permission
}

func NewRolePolicy[U any](resourceType string, roleOf func(U) string) *RolePolicy[U] {
	return &RolePolicy[U]{resourceType: resourceType, roleOf: roleOf, grants: make(map[string][]Permission)}
}

// Grant adds permissions for role and returns p for chaining.
func (p *RolePolicy[U]) Grant(role string, perms ...Permission) *RolePolicy[U] {
	p.grants[role] = append(p.grants[role], perms...)
	return p
}

func (p *RolePolicy[U]) Can(_ context.Context, user U, action Action, _ any) bool {
	requested := NewPermission(p.resourceType, action)
	for _, granted := range p.grants[p.roleOf(user)] {
		if granted.Matches(requested) {
			return true
		}
	}
	return false
}
