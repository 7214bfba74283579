package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "user chat", role: RoleUser, action: ActionChat, allow: true},
		{name: "user review", role: RoleUser, action: ActionReview, allow: false},
		{name: "user override", role: RoleUser, action: ActionOverride, allow: false},
		{name: "user export", role: RoleUser, action: ActionExport, allow: false},
		{name: "admin override", role: RoleAdmin, action: ActionOverride, allow: true},
		{name: "admin pm write", role: RoleAdmin, action: ActionPMWrite, allow: true},
		{name: "unknown role", role: Role("guest"), action: ActionChat, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestCanAccessSession(t *testing.T) {
	if !CanAccessSession(RoleAdmin, "a", "b") {
		t.Fatal("admin should read any session")
	}
	if !CanAccessSession(RoleUser, "u1", "u1") {
		t.Fatal("owner should read own session")
	}
	if CanAccessSession(RoleUser, "u1", "u2") {
		t.Fatal("user must not read another owner's session")
	}
	if CanAccessSession(RoleUser, "", "") {
		t.Fatal("empty actor must not match")
	}
}

func TestFromAdmin(t *testing.T) {
	if FromAdmin(true) != RoleAdmin || FromAdmin(false) != RoleUser {
		t.Fatal("FromAdmin mapping wrong")
	}
}
