package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// Identity headers set by the trusted gateway in front of this service.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
	HeaderUserName = "X-User-Name"
)

type actorKey struct{}

// Identity attaches the caller from the gateway headers. Anything other than
// the admin role is treated as a customer.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		a := orders.Actor{ID: id, Name: strings.TrimSpace(r.Header.Get(HeaderUserName)), Role: orders.RoleCustomer}
		if orders.Role(strings.ToLower(r.Header.Get(HeaderUserRole))) == orders.RoleAdmin {
			a.Role = orders.RoleAdmin
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, a)))
	})
}

func ActorFrom(ctx context.Context) (orders.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(orders.Actor)
	return a, ok
}

// RequireActor rejects anonymous requests with 401.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ActorFrom(r.Context()); !ok {
			writeFail(w, http.StatusUnauthorized, CodeUnauthorized, "authentication required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects anonymous requests with 401 and non-admins with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return RequireActor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a, _ := ActorFrom(r.Context()); !a.IsAdmin() {
			writeFail(w, http.StatusForbidden, CodeForbidden, "admin only", nil)
			return
		}
		next.ServeHTTP(w, r)
	}))
}
