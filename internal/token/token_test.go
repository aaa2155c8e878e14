package token_test

import (
	"testing"

	"github.com/notifyhub/torque-notifications/internal/domain"
	"github.com/notifyhub/torque-notifications/internal/token"
)

func TestNext(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := token.Next()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tok) != domain.TokenLength {
			t.Fatalf("expected length %d, got %d (%q)", domain.TokenLength, len(tok), tok)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}
