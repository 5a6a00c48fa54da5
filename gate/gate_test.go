package gate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/diewo77/go-pos/gate"
)

type operator struct {
	ID   string
	Role string
}

func roleOf(o operator) string { return o.Role }

func newGate() *gate.Gate[operator] {
	g := gate.NewGate[operator]()
	g.Register("restock", gate.NewRolePolicy("restock", roleOf).
		Grant("cashier", gate.NewPermission("restock", gate.ActionList)).
		Grant("manager", "restock:*"))
	g.Register("product", gate.NewRolePolicy("product", roleOf).
		Grant("admin", gate.PermissionSuperAdmin))
	return g
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	cashier := operator{ID: "c-1", Role: "cashier"}
	manager := operator{ID: "m-1", Role: "manager"}
	admin := operator{ID: "a-1", Role: "admin"}

	tests := []struct {
		name     string
		user     operator
		action   gate.Action
		resource string
		want     error
	}{
		{"no caller", operator{}, gate.ActionList, "restock", gate.ErrUnauthorized},
		{"unknown resource", cashier, gate.ActionList, "sale", gate.ErrNoPolicyDefined},
		{"cashier lists", cashier, gate.ActionList, "restock", nil},
		{"cashier cannot resolve", cashier, gate.ActionResolve, "restock", gate.ErrForbidden},
		{"manager wildcard", manager, gate.ActionResolve, "restock", nil},
		{"manager other resource", manager, gate.ActionCreate, "product", gate.ErrForbidden},
		{"admin super permission", admin, gate.ActionCreate, "product", nil},
	}
	g := newGate()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Authorize(ctx, tt.user, tt.action, tt.resource, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("Authorize() = %v, want %v", err, tt.want)
			}
			if got := g.Can(ctx, tt.user, tt.action, tt.resource, nil); got != (tt.want == nil) {
				t.Errorf("Can() = %v", got)
			}
		})
	}
}

func TestPermissionMatches(t *testing.T) {
	tests := []struct {
		p, req gate.Permission
		want   bool
	}{
		{"product:create", "product:create", true},
		{"product:*", "product:create", true},
		{"product:*", "restock:create", false},
		{"*:*", "restock:resolve", true},
		{"bogus", "product:create", false},
	}
	for _, tt := range tests {
		if got := tt.p.Matches(tt.req); got != tt.want {
			t.Errorf("%s.Matches(%s) = %v, want %v", tt.p, tt.req, got, tt.want)
		}
	}
}

func TestPermissionParse(t *testing.T) {
	res, act := gate.Permission("restock:acknowledge").Parse()
	if res != "restock" || act != gate.ActionAcknowledge {
		t.Errorf("Parse() = %q, %q", res, act)
	}
	if res, act := gate.Permission("nocolon").Parse(); res != "" || act != "" {
		t.Errorf("Parse(nocolon) = %q, %q", res, act)
	}
}
