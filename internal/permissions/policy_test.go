package permissions

import "testing"

func TestCanAccess(t *testing.T) {
	pe := NewPolicyEngine(nil)

	cases := []struct {
		role   Role
		method string
		want   bool
	}{
		{RoleViewer, "health", true},
		{RoleViewer, "session.send", false},
		{RoleOperator, "session.send", true},
		{RoleOperator, "config.update", false},
		{RoleAdmin, "config.update", true},
		{RoleViewer, "some.unregistered.method", false},
		{RoleOperator, "some.unregistered.method", true},
	}

	for _, tc := range cases {
		if got := pe.CanAccess(tc.role, tc.method); got != tc.want {
			t.Errorf("CanAccess(%s, %s) = %v, want %v", tc.role, tc.method, got, tc.want)
		}
	}
}

func TestIsOwner(t *testing.T) {
	pe := NewPolicyEngine([]string{"+15551234", "alice"})

	if !pe.IsOwner("+15551234") {
		t.Error("expected +15551234 to be owner")
	}
	if pe.IsOwner("bob") {
		t.Error("expected bob not to be owner")
	}
	if pe.IsOwner("") {
		t.Error("expected empty id not to be owner")
	}
}
