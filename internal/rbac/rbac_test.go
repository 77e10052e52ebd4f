package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleOwner, ActionManage, true},
		{RoleAdmin, ActionManage, true},
		{RoleMember, ActionExtract, true},
		{RoleMember, ActionManage, false},
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionWrite, false},
		{Role("bogus"), ActionRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalizeFallsBackToViewer(t *testing.T) {
	if Normalize("sysadmin") != RoleViewer {
		t.Fatal("unknown role should normalize to viewer")
	}
	if Normalize("owner") != RoleOwner {
		t.Fatal("known role should pass through")
	}
}
