// Package token generates the staleness tokens attached to user preferences.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/notifyhub/torque-notifications/internal/domain"
)

// Next returns a fresh random token of domain.TokenLength hex characters.
func Next() (string, error) {
	b := make([]byte, domain.TokenLength/2)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
