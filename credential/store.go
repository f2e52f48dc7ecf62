package credential

import (
	"context"
	"sync"

	"github.com/halcyon-fi/custodian/types"
)

// Store is the durable credential collaborator: load/save/clear by owner
// id. Load returns (zero, nil) when nothing is stored.
type Store interface {
	Load(ctx context.Context, ownerID string) (types.Credential, error)
	Save(ctx context.Context, ownerID string, cred types.Credential) error
	Clear(ctx context.Context, ownerID string) error
}

// MemoryStore keeps credentials in process. Suitable for tests and for
// hosts that persist elsewhere.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]types.Credential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]types.Credential)}
}

func (s *MemoryStore) Load(_ context.Context, ownerID string) (types.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds[ownerID], nil
}

func (s *MemoryStore) Save(_ context.Context, ownerID string, cred types.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[ownerID] = cred
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, ownerID)
	return nil
}
