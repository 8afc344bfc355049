package permissions

import (
	"testing"

	"warden-bot/internal/config"
)

func TestLevelOf(t *testing.T) {
	checker := New(config.PermissionsConfig{
		AuthorizedUser:   "elijah.cc",
		OwnerIDs:         []string{"42"},
		AdminRoleIDs:     []string{"admin-role"},
		ModeratorRoleIDs: []string{"mod-role"},
	})

	cases := []struct {
		name  string
		actor Actor
		want  Level
	}{
		{"authorized username", Actor{UserID: "1", Username: "elijah.cc"}, Owner},
		{"authorized tag", Actor{UserID: "1", Username: "x", Tag: "elijah.cc"}, Owner},
		{"authorized name differs in case", Actor{UserID: "1", Username: "Elijah.cc", Tag: "Elijah.cc"}, User},
		{"owner id", Actor{UserID: "42"}, Owner},
		{"admin role", Actor{UserID: "2", RoleIDs: []string{"other", "admin-role"}}, Admin},
		{"administrator permission", Actor{UserID: "2", Administrator: true}, Admin},
		{"moderator role", Actor{UserID: "3", RoleIDs: []string{"mod-role"}}, Moderator},
		{"nobody", Actor{UserID: "4", Username: "someone"}, User},
	}
	for _, tc := range cases {
		if got := checker.LevelOf(tc.actor); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestCheckIsOrdered(t *testing.T) {
	checker := New(config.PermissionsConfig{ModeratorRoleIDs: []string{"mod-role"}})
	mod := Actor{UserID: "3", RoleIDs: []string{"mod-role"}}

	if !checker.Check(mod, User) || !checker.Check(mod, Moderator) {
		t.Fatalf("moderator should pass user and moderator checks")
	}
	if checker.Check(mod, Admin) {
		t.Fatalf("moderator should not pass admin check")
	}
}

func TestEmptyAuthorizedUserMatchesNobody(t *testing.T) {
	checker := New(config.PermissionsConfig{})
	if got := checker.LevelOf(Actor{UserID: "1"}); got != User {
		t.Fatalf("expected USER, got %s", got)
	}
}
