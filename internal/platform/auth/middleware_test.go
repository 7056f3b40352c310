package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGatewayIdentityMiddlewarePopulatesContext(t *testing.T) {
	var captured *Identity
	handler := GatewayIdentityMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(HeaderUserID, "user_42")
	req.Header.Set(HeaderUserEmail, "buyer@example.com")
	req.Header.Set(HeaderUserRoles, "User, Admin")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if captured == nil {
		t.Fatal("expected identity on context")
	}
	if captured.UID != "user_42" {
		t.Fatalf("unexpected uid %q", captured.UID)
	}
	if captured.Email != "buyer@example.com" {
		t.Fatalf("unexpected email %q", captured.Email)
	}
	if !captured.HasRole(RoleAdmin) {
		t.Fatal("expected admin role")
	}
	if !captured.Elevated() {
		t.Fatal("expected elevated identity")
	}
}

func TestGatewayIdentityMiddlewareAnonymous(t *testing.T) {
	handler := GatewayIdentityMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); ok {
			t.Error("expected no identity for anonymous request")
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders", nil))
}

func TestIdentityCanAccessUser(t *testing.T) {
	owner := &Identity{UID: "user_1", Roles: []string{RoleUser}}
	if !owner.CanAccessUser("user_1") {
		t.Fatal("owner should access own resources")
	}
	if owner.CanAccessUser("user_2") {
		t.Fatal("non-owner without elevation should be denied")
	}

	admin := &Identity{UID: "staff_1", Roles: []string{RoleAdmin}}
	if !admin.CanAccessUser("user_2") {
		t.Fatal("admin should access any user's resources")
	}

	var nobody *Identity
	if nobody.CanAccessUser("user_1") {
		t.Fatal("nil identity should be denied")
	}
}

func TestParseRolesDefaults(t *testing.T) {
	roles := parseRoles("  ")
	if len(roles) != 1 || roles[0] != RoleUser {
		t.Fatalf("expected default user role, got %v", roles)
	}
}
