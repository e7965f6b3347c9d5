// Package storage holds what the webhook store implementations share.
package storage

import (
	"crypto/rand"
	"fmt"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/ports"
)

// Re-export the store interfaces so callers only need this package.
type (
	WebhookStore     = ports.WebhookStore
	AccountDataStore = ports.AccountDataStore
	Provider         = ports.StorageProvider
)

const hookIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// maxUnbiased is the largest multiple of len(hookIDAlphabet) that fits in a byte.
const maxUnbiased = 256 - 256%len(hookIDAlphabet)

// NewHookID returns a random alphanumeric token of domain.HookIDLength
// characters. Collisions are not checked for.
func NewHookID() (string, error) {
	id := make([]byte, 0, domain.HookIDLength)
	buf := make([]byte, domain.HookIDLength*2)

	for len(id) < domain.HookIDLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate hook id: %w", err)
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			id = append(id, hookIDAlphabet[int(b)%len(hookIDAlphabet)])
			if len(id) == domain.HookIDLength {
				break
			}
		}
	}

	return string(id), nil
}
