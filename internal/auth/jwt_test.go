package auth_test

import (
	"errors"
	"testing"
	"time"

	"github.com/notifyhub/torque-notifications/internal/auth"
)

func TestSignVerify_RoundTrip(t *testing.T) {
	tok, err := auth.Sign("s3cret", "u1", time.Hour, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	claims, err := auth.Verify("s3cret", tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "u1" || claims.Issuer != auth.Issuer {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	tok, _ := auth.Sign("s3cret", "u1", time.Hour, time.Now())
	if _, err := auth.Verify("other", tok); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_Expired(t *testing.T) {
	tok, _ := auth.Sign("s3cret", "u1", time.Minute, time.Now().Add(-time.Hour))
	if _, err := auth.Verify("s3cret", tok); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestFromHeader(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr error
	}{
		{"Bearer abc", "abc", nil},
		{"", "", auth.ErrMissingToken},
		{"Basic abc", "", auth.ErrInvalidToken},
		{"Bearer ", "", auth.ErrInvalidToken},
	}
	for _, tt := range tests {
		got, err := auth.FromHeader(tt.header)
		if !errors.Is(err, tt.wantErr) || got != tt.want {
			t.Errorf("FromHeader(%q) = %q, %v; want %q, %v", tt.header, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestAllows(t *testing.T) {
	user := &auth.Claims{}
	user.Subject = "u1"

	if err := auth.Allows(nil, "u2"); err != nil {
		t.Fatalf("disabled auth must allow: %v", err)
	}
	if err := auth.Allows(&auth.Claims{}, "u2"); err != nil {
		t.Fatalf("operator token must allow: %v", err)
	}
	if err := auth.Allows(user, "u1"); err != nil {
		t.Fatalf("own user must allow: %v", err)
	}
	if err := auth.Allows(user, "u2"); !errors.Is(err, auth.ErrSubjectMismatch) {
		t.Fatalf("expected ErrSubjectMismatch, got %v", err)
	}
}
