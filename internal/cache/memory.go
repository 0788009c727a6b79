package cache

import (
	"context"
	"sync"

	"github.com/colthorp/txcache/internal/api"
	"github.com/jinzhu/copier"
	"github.com/tidwall/btree"
)

// MemoryStore keeps everything in process memory, ordered by user id.
// Values are copied on the way in and out so callers cannot alias stored state.
type MemoryStore struct {
	mu    sync.RWMutex
	users *btree.BTree
}

type userEntry struct {
	userID   string
	records  *RecordSet
	tokens   []string
	accounts []api.Account
	// accountsSet distinguishes a stored empty list from nothing stored.
	accountsSet bool
}

func byUserID(a, b interface{}) bool {
	return a.(*userEntry).userID < b.(*userEntry).userID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: btree.NewNonConcurrent(byUserID)}
}

// entry returns the user's entry, creating it when create is set.
// Callers hold mu.
func (s *MemoryStore) entry(userID string, create bool) *userEntry {
	if found := s.users.Get(&userEntry{userID: userID}); found != nil {
		return found.(*userEntry)
	}
	if !create {
		return nil
	}
	e := &userEntry{userID: userID}
	s.users.Set(e)
	return e
}

func cloneRecordSet(rs *RecordSet) (*RecordSet, error) {
	out := &RecordSet{}
	if err := copier.Copy(out, rs); err != nil {
		return nil, err
	}
	out.Transactions = append(make([]api.Transaction, 0, len(rs.Transactions)), rs.Transactions...)
	return out, nil
}

func (s *MemoryStore) ReadRecords(ctx context.Context, userID string) (*RecordSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entry(userID, false)
	if e == nil || e.records == nil {
		return nil, nil
	}
	return cloneRecordSet(e.records)
}

func (s *MemoryStore) WriteRecords(ctx context.Context, userID string, rs *RecordSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clone, err := cloneRecordSet(rs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(userID, true).records = clone
	return nil
}

func (s *MemoryStore) Tokens(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entry(userID, false)
	if e == nil {
		return []string{}, nil
	}
	return append([]string{}, e.tokens...), nil
}

func (s *MemoryStore) AddToken(ctx context.Context, userID, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(userID, true)
	for _, t := range e.tokens {
		if t == token {
			return nil
		}
	}
	e.tokens = append(e.tokens, token)
	return nil
}

func (s *MemoryStore) Accounts(ctx context.Context, userID string) ([]api.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]api.Account, 0)
	e := s.entry(userID, false)
	if e == nil || !e.accountsSet {
		return out, false, nil
	}
	return append(out, e.accounts...), true, nil
}

func (s *MemoryStore) StoreAccounts(ctx context.Context, userID string, accounts []api.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(userID, true)
	e.accounts = append([]api.Account(nil), accounts...)
	e.accountsSet = true
	return nil
}

func (s *MemoryStore) ClearAccounts(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.entry(userID, false); e != nil {
		e.accounts = nil
		e.accountsSet = false
	}
	return nil
}

// Users returns every user id with stored state, in ascending order.
func (s *MemoryStore) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, s.users.Len())
	s.users.Ascend(nil, func(item interface{}) bool {
		ids = append(ids, item.(*userEntry).userID)
		return true
	})
	return ids
}

// Seed adds tokens directly (for testing).
func (s *MemoryStore) Seed(userID string, tokens ...string) {
	for _, t := range tokens {
		_ = s.AddToken(context.Background(), userID, t)
	}
}

// Reset clears all entries (for testing).
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = btree.NewNonConcurrent(byUserID)
}

func (s *MemoryStore) Close() error { return nil }
