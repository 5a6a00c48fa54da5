// Package auth attaches the cashier identity of a request to its context.
// Authentication itself happens upstream; terminals forward the signed-in
// cashier in the X-Cashier-ID, X-Cashier-Name and X-Cashier-Role headers.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/diewo77/go-pos/gate"
	"github.com/diewo77/go-pos/httpx"
)

type ctxKey string

const (
	HeaderCashierID   = "X-Cashier-ID"
	HeaderCashierName = "X-Cashier-Name"
	HeaderCashierRole = "X-Cashier-Role"

	cashierCtxKey = ctxKey("cashier")
)

// Roles understood by the route policies.
const (
	RoleCashier = "cashier"
	RoleManager = "manager"
)

// Cashier is the operator settling sales on a terminal.
type Cashier struct {
	ID   string
	Name string
	Role string
}

// WithCashier stores the cashier in context.
func WithCashier(ctx context.Context, c Cashier) context.Context {
	return context.WithValue(ctx, cashierCtxKey, c)
}

// CashierFromContext extracts the cashier.
func CashierFromContext(ctx context.Context) (Cashier, bool) {
	c, ok := ctx.Value(cashierCtxKey).(Cashier)
	if !ok || c.ID == "" {
		return Cashier{}, false
	}
	return c, true
}

// Middleware attaches the cashier to the request context if the headers are present.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderCashierID))
		if id != "" {
			c := Cashier{
				ID:   id,
				Name: strings.TrimSpace(r.Header.Get(HeaderCashierName)),
				Role: strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderCashierRole))),
			}
			if c.Role == "" {
				c.Role = RoleCashier
			}
			r = r.WithContext(WithCashier(r.Context(), c))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCashier answers 401 when no cashier is attached.
func RequireCashier(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CashierFromContext(r.Context()); !ok {
			httpx.JSONError(w, http.StatusUnauthorized, "cashier_required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RoleOf is the role extractor used by gate.RolePolicy.
func RoleOf(c Cashier) string { return c.Role }

// Require answers 401 without a cashier and 403 when g denies action on resourceType.
func Require(g *gate.Gate[Cashier], resourceType string, action gate.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RequireCashier(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, _ := CashierFromContext(r.Context())
			switch err := g.Authorize(r.Context(), c, action, resourceType, nil); {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, gate.ErrUnauthorized):
				httpx.JSONError(w, http.StatusUnauthorized, "cashier_required", nil)
			default:
				httpx.JSONError(w, http.StatusForbidden, "forbidden", map[string]string{"resource": resourceType, "action": string(action)})
			}
		}))
	}
}
