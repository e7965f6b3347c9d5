package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/matrix-webhook-bridge/internal/core/domain"
	"github.com/tjfontaine/matrix-webhook-bridge/internal/storage"
)

// Store is an in-memory implementation of the webhook and account data stores
type Store struct {
	mu          sync.RWMutex
	hooks       map[string]*domain.Webhook
	accountData map[string]map[string]string
}

var _ storage.Provider = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		hooks:       make(map[string]*domain.Webhook),
		accountData: make(map[string]map[string]string),
	}
}

func (s *Store) CreateWebhook(ctx context.Context, roomID, userID, label string) (*domain.Webhook, error) {
	id, err := storage.NewHookID()
	if err != nil {
		return nil, err
	}

	hook := &domain.Webhook{
		ID:        id,
		RoomID:    roomID,
		UserID:    userID,
		Label:     label,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks[id] = hook

	cp := *hook
	return &cp, nil
}

func (s *Store) GetWebhook(ctx context.Context, id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hook, ok := s.hooks[id]
	if !ok {
		return nil, domain.ErrHookNotFound
	}
	cp := *hook
	return &cp, nil
}

func (s *Store) ListWebhooks(ctx context.Context, roomID string) ([]*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.Webhook{}
	for _, hook := range s.hooks {
		if hook.RoomID != roomID {
			continue
		}
		cp := *hook
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (s *Store) UpdateWebhookLabel(ctx context.Context, id, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hook, ok := s.hooks[id]
	if !ok {
		return domain.ErrHookNotFound
	}
	hook.Label = label
	return nil
}

func (s *Store) DeleteWebhook(ctx context.Context, roomID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hook, ok := s.hooks[id]
	if !ok || hook.RoomID != roomID {
		return domain.ErrHookNotFound
	}
	delete(s.hooks, id)
	return nil
}

func (s *Store) DeleteWebhooksForRoom(ctx context.Context, roomID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, hook := range s.hooks {
		if hook.RoomID == roomID {
			delete(s.hooks, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) GetAccountData(ctx context.Context, objectID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.accountData[objectID]))
	for k, v := range s.accountData[objectID] {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SetAccountData(ctx context.Context, objectID string, data map[string]string) error {
	cp := make(map[string]string, len(data))
	for k, v := range data {
		cp[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountData[objectID] = cp
	return nil
}

func (s *Store) Close() error {
	return nil
}
