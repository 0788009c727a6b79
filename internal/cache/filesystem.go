package cache

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/colthorp/txcache/internal/api"
	"github.com/colthorp/txcache/internal/core"
	"github.com/pkg/errors"
)

const (
	transactionsDir = "transactions"
	tokensDir       = "access_tokens"
	accountsDir     = "accounts"
)

// FilesystemStore stores one JSON document per user and collection.
// Directory layout: <root>/{transactions,access_tokens,accounts}/<user>.json
type FilesystemStore struct {
	root      string
	writeLock sync.Mutex
}

type tokensPayload struct {
	Tokens []string `json:"tokens"`
}

type accountsPayload struct {
	Accounts []api.Account `json:"accounts"`
}

// NewFilesystemStore creates a new filesystem-based store.
func NewFilesystemStore(root string) *FilesystemStore {
	if root == "" {
		root = filepath.Join(core.DataRoot(), "store")
	}
	return &FilesystemStore{root: root}
}

// Path returns the document path for a user in a collection.
func (s *FilesystemStore) Path(collection, userID string) string {
	return filepath.Join(s.root, collection, url.PathEscape(userID)+".json")
}

// read loads a document into v. It reports false when the document is
// absent. A corrupt document is removed and reported absent when
// dropCorrupt is set, and returned as an error otherwise.
func (s *FilesystemStore) read(collection, userID string, v interface{}, dropCorrupt bool) (bool, error) {
	path := s.Path(collection, userID)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(data, v); err != nil {
		if !dropCorrupt {
			return false, errors.Wrapf(err, "corrupt document %s", path)
		}
		os.Remove(path)
		return false, nil
	}
	return true, nil
}

// write persists v atomically.
func (s *FilesystemStore) write(collection, userID string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	path := s.Path(collection, userID)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// Write to temp file first, then rename
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FilesystemStore) ReadRecords(ctx context.Context, userID string) (*RecordSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var payload recordSetPayload
	ok, err := s.read(transactionsDir, userID, &payload, true)
	if err != nil || !ok {
		return nil, err
	}
	return payload.toRecordSet(func() { os.Remove(s.Path(transactionsDir, userID)) }), nil
}

func (s *FilesystemStore) WriteRecords(ctx context.Context, userID string, rs *RecordSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	return s.write(transactionsDir, userID, newRecordSetPayload(rs))
}

func (s *FilesystemStore) Tokens(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Tokens are credentials: a corrupt document is never dropped.
	var payload tokensPayload
	if _, err := s.read(tokensDir, userID, &payload, false); err != nil {
		return nil, err
	}
	if payload.Tokens == nil {
		return []string{}, nil
	}
	return payload.Tokens, nil
}

func (s *FilesystemStore) AddToken(ctx context.Context, userID, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	var payload tokensPayload
	if _, err := s.read(tokensDir, userID, &payload, false); err != nil {
		return err
	}
	for _, t := range payload.Tokens {
		if t == token {
			return nil
		}
	}
	payload.Tokens = append(payload.Tokens, token)
	return s.write(tokensDir, userID, payload)
}

func (s *FilesystemStore) Accounts(ctx context.Context, userID string) ([]api.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var payload accountsPayload
	ok, err := s.read(accountsDir, userID, &payload, true)
	if err != nil {
		return nil, false, err
	}
	if payload.Accounts == nil {
		payload.Accounts = []api.Account{}
	}
	return payload.Accounts, ok, nil
}

func (s *FilesystemStore) StoreAccounts(ctx context.Context, userID string, accounts []api.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if accounts == nil {
		accounts = []api.Account{}
	}
	return s.write(accountsDir, userID, accountsPayload{Accounts: accounts})
}

func (s *FilesystemStore) ClearAccounts(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if err := os.Remove(s.Path(accountsDir, userID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FilesystemStore) Close() error { return nil }

func newRecordSetPayload(rs *RecordSet) recordSetPayload {
	txns := rs.Transactions
	if txns == nil {
		txns = []api.Transaction{}
	}
	return recordSetPayload{
		Transactions: txns,
		StartDate:    rs.WindowStart.String(),
		EndDate:      rs.WindowEnd.String(),
		FetchedAt:    rs.FetchedAt,
	}
}

// toRecordSet converts a stored document back, calling onCorrupt and
// returning nil when its window dates do not parse.
func (p recordSetPayload) toRecordSet(onCorrupt func()) *RecordSet {
	start, err1 := civil.ParseDate(p.StartDate)
	end, err2 := civil.ParseDate(p.EndDate)
	if err1 != nil || err2 != nil {
		if onCorrupt != nil {
			onCorrupt()
		}
		return nil
	}

	txns := p.Transactions
	if txns == nil {
		txns = []api.Transaction{}
	}
	return &RecordSet{
		Transactions: txns,
		WindowStart:  start,
		WindowEnd:    end,
		FetchedAt:    p.FetchedAt,
	}
}
