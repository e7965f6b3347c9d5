package storage

import (
	"testing"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
)

func TestNewHookID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := NewHookID()
		if err != nil {
			t.Fatalf("NewHookID() error = %v", err)
		}
		if len(id) != domain.HookIDLength {
			t.Fatalf("len(id) = %d, want %d", len(id), domain.HookIDLength)
		}
		for _, r := range id {
			isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !isAlnum {
				t.Fatalf("id %q contains non-alphanumeric rune %q", id, r)
			}
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
