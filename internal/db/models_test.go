package db

import "testing"

func TestValidStatus(t *testing.T) {
	for _, s := range []NotificationStatus{StatusPending, StatusQueued, StatusFailed, StatusRead} {
		if !ValidStatus(s) {
			t.Errorf("%s should be valid", s)
		}
	}
	if ValidStatus("delivered") {
		t.Error("unknown status should be invalid")
	}
}

func TestLegalTransition(t *testing.T) {
	tests := []struct {
		from, to NotificationStatus
		want     bool
	}{
		{StatusPending, StatusQueued, true},
		{StatusPending, StatusFailed, true},
		{StatusQueued, StatusRead, true},
		{StatusPending, StatusRead, false},
		{StatusQueued, StatusFailed, false},
		{StatusFailed, StatusQueued, false},
		{StatusFailed, StatusRead, false},
		{StatusRead, StatusQueued, false},
		{StatusQueued, StatusPending, false},
	}

	for _, tt := range tests {
		if got := legalTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("legalTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsStaff(t *testing.T) {
	tests := []struct {
		role string
		want bool
	}{
		{RoleUser, false},
		{RoleTeacher, false},
		{RoleAdmin, true},
		{RoleSuperUser, true},
	}

	for _, tt := range tests {
		u := &User{UserRole: tt.role}
		if got := u.IsStaff(); got != tt.want {
			t.Errorf("IsStaff(%s) = %v, want %v", tt.role, got, tt.want)
		}
	}
}
