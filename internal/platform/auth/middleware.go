package auth

import (
	"net/http"
	"strings"
)

// Headers populated by the API gateway after it has verified the caller's
// credentials. Requests reaching this service directly without a gateway in
// front carry no identity and are treated as anonymous.
const (
	HeaderUserID    = "X-Auth-User-Id"
	HeaderUserEmail = "X-Auth-User-Email"
	HeaderUserRoles = "X-Auth-User-Roles"
)

// GatewayIdentityMiddleware extracts the gateway-established identity from
// trusted headers and stores it on the request context.
func GatewayIdentityMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if uid == "" {
				next.ServeHTTP(w, r)
				return
			}

			identity := &Identity{
				UID:   uid,
				Email: strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
				Roles: parseRoles(r.Header.Get(HeaderUserRoles)),
			}
			ctx := WithIdentity(r.Context(), identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseRoles(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{RoleUser}
	}
	parts := strings.Split(raw, ",")
	roles := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed != "" {
			roles = append(roles, trimmed)
		}
	}
	if len(roles) == 0 {
		roles = []string{RoleUser}
	}
	return roles
}
