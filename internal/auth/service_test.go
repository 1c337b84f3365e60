package auth

import (
	"context"
	"errors"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "01012345678", want: "01012345678"},
		{in: " +20 101-234-5678 ", want: "+201012345678"},
		{in: "(010) 1234.5678", want: "01012345678"},
		{in: "1234567", wantErr: true},
		{in: "1234567890123456", wantErr: true},
		{in: "0101234567a", wantErr: true},
		{in: "010+12345678", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range tests {
		got, err := NormalizePhone(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidPhone) {
				t.Fatalf("%q: expected ErrInvalidPhone, got %q %v", tc.in, got, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%q: expected %q, got %q err=%v", tc.in, tc.want, got, err)
		}
	}
}

func TestCanManage(t *testing.T) {
	teacher := &User{ID: 5, Role: RoleTeacher}
	admin := &User{ID: 1, Role: RoleAdmin}
	var guest *User

	if !teacher.CanManage(5) {
		t.Fatalf("owner must manage own resource")
	}
	if teacher.CanManage(6) {
		t.Fatalf("teacher must not manage another teacher's resource")
	}
	if !admin.CanManage(6) {
		t.Fatalf("admin bypasses ownership")
	}
	if guest.CanManage(5) {
		t.Fatalf("nil user manages nothing")
	}
}

func TestSecureEqualAndHashToken(t *testing.T) {
	if !secureEqual("abc", "abc") || secureEqual("abc", "abd") {
		t.Fatalf("secureEqual mismatch")
	}
	if hashToken("t") == hashToken("u") || len(hashToken("t")) != 64 {
		t.Fatalf("unexpected token hash")
	}
}

func TestParseBoolLoose(t *testing.T) {
	for v, want := range map[string]bool{"": true, "yes": true, "0": false, "false": false, "لا": false, "2": true} {
		if got := parseBoolLoose(v); got != want {
			t.Fatalf("%q: expected %v, got %v", v, want, got)
		}
	}
}

func TestCreateUserRequiresFullName(t *testing.T) {
	svc := NewService(nil, ServiceConfig{})
	_, err := svc.Register(context.Background(), AccountInput{PhoneNumber: "01012345678", FullName: "   ", Password: "secret123"})
	if !errors.Is(err, ErrFullNameRequired) {
		t.Fatalf("expected ErrFullNameRequired, got %v", err)
	}
}
