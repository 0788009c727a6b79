package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/colthorp/txcache/internal/api"
	"github.com/colthorp/txcache/internal/core"
	"github.com/pkg/errors"
)

// Manager resolves transaction windows against the record store, fetching
// from upstream only what the stored window does not cover.
//
// # Cache Validity
//
// A stored set answers a request iff the requested window lies inside the
// stored window. There is no expiry: once covered, a window is served from
// storage until the record set is replaced.
//
// # Concurrency
//
// Within one resolution every token is fetched on its own goroutine, bounded
// by MaxParallelFetches. Across resolutions the Manager serializes per user
// unless built WithSerializePerUser(false), in which case two concurrent
// writers for the same user race and the last write wins.
type Manager struct {
	upstream    Upstream
	store       Store
	logger      *slog.Logger
	maxParallel int
	locks       *userLocks
	now         func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to a discarding logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMaxParallelFetches bounds concurrent upstream calls per resolution.
// n <= 0 starts one goroutine per token with no bound.
func WithMaxParallelFetches(n int) Option {
	return func(m *Manager) { m.maxParallel = n }
}

// WithSerializePerUser toggles per-user serialization of Resolve and Accounts.
func WithSerializePerUser(enabled bool) Option {
	return func(m *Manager) {
		if enabled {
			m.locks = &userLocks{}
		} else {
			m.locks = nil
		}
	}
}

// WithClock overrides the clock used for RecordSet.FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a new cache manager over the given upstream and store.
// If store is nil, uses a fresh MemoryStore.
func NewManager(upstream Upstream, store Store, opts ...Option) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	m := &Manager{
		upstream:    upstream,
		store:       store,
		logger:      core.NopLogger(),
		maxParallel: core.DefaultMaxParallelFetches,
		locks:       &userLocks{},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "cache")
	return m
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

// Resolve returns a record set covering [start, end] for userID.
//
// Resolution rules:
//   - stored window covers the request: return the stored set, touch nothing else
//   - nothing stored: fetch exactly [start, end]
//   - otherwise: fetch the union of the stored and requested windows
//
// A fetched set replaces the stored one wholesale. The returned set may
// cover more than was asked for; callers filter it down.
func (m *Manager) Resolve(ctx context.Context, userID string, start, end civil.Date) (*RecordSet, error) {
	if userID == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "user id is required")
	}
	req := Window{Start: start, End: end}
	if !req.Valid() {
		return nil, errors.Wrapf(ErrInvalidWindow, "%s", req)
	}

	unlock := m.locks.lock(userID)
	defer unlock()

	log := m.logger.With("user", userID, "requested", req.String())

	stored, err := m.store.ReadRecords(ctx, userID)
	if err != nil {
		return nil, wrapStore(err, "read records")
	}
	if stored != nil && !stored.Window().Valid() {
		log.Warn("ignoring stored record set with an inverted window", "stored", stored.Window().String())
		stored = nil
	}

	fetch, needed := FetchWindow(stored, req)
	if !needed {
		log.Debug("served from cache", "stored", fetch.String(), "count", len(stored.Transactions))
		return stored, nil
	}

	tokens, err := m.store.Tokens(ctx, userID)
	if err != nil {
		return nil, wrapStore(err, "read tokens")
	}
	if len(tokens) == 0 {
		return nil, errors.Wrapf(ErrNoCredentials, "user %s", userID)
	}

	log.Info("fetching", "window", fetch.String(), "tokens", len(tokens))
	started := m.now()

	batches, err := fanOut(ctx, tokens, m.maxParallel, func(ctx context.Context, token string) ([]api.Transaction, error) {
		return m.upstream.FetchTransactions(ctx, token, fetch.Start, fetch.End)
	})
	if err != nil {
		log.Error("fetch failed, nothing written", "window", fetch.String(), "error", err)
		return nil, errors.Wrapf(ErrFetchFailed, "%v", err)
	}

	rs := &RecordSet{
		Transactions: m.mergeTransactions(log, batches),
		WindowStart:  fetch.Start,
		WindowEnd:    fetch.End,
		FetchedAt:    m.now(),
	}
	if err := m.store.WriteRecords(ctx, userID, rs); err != nil {
		return nil, wrapStore(err, "write records")
	}

	log.Info("stored record set",
		"window", fetch.String(),
		"count", len(rs.Transactions),
		"elapsed", m.now().Sub(started).String())
	return rs, nil
}

// mergeTransactions concatenates batches in token order, keeping the first
// occurrence of every transaction id.
func (m *Manager) mergeTransactions(log *slog.Logger, batches [][]api.Transaction) []api.Transaction {
	total := 0
	for _, b := range batches {
		total += len(b)
	}

	merged := make([]api.Transaction, 0, total)
	seen := make(map[string]int, total)
	for i, batch := range batches {
		for _, txn := range batch {
			if first, dup := seen[txn.ID]; dup {
				log.Warn("dropping duplicate transaction",
					"transaction_id", txn.ID,
					"kept_from_token", first,
					"dropped_from_token", i)
				continue
			}
			seen[txn.ID] = i
			merged = append(merged, txn)
		}
	}
	return merged
}

// Accounts returns the user's accounts, fetching and storing them on first use.
func (m *Manager) Accounts(ctx context.Context, userID string) ([]api.Account, error) {
	if userID == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "user id is required")
	}

	unlock := m.locks.lock(userID)
	defer unlock()

	stored, ok, err := m.store.Accounts(ctx, userID)
	if err != nil {
		return nil, wrapStore(err, "read accounts")
	}
	if ok {
		return stored, nil
	}

	tokens, err := m.store.Tokens(ctx, userID)
	if err != nil {
		return nil, wrapStore(err, "read tokens")
	}
	if len(tokens) == 0 {
		return nil, errors.Wrapf(ErrNoCredentials, "user %s", userID)
	}

	batches, err := fanOut(ctx, tokens, m.maxParallel, m.upstream.GetAccounts)
	if err != nil {
		return nil, errors.Wrapf(ErrFetchFailed, "%v", err)
	}

	accounts := make([]api.Account, 0)
	seen := make(map[string]bool)
	for _, batch := range batches {
		for _, acc := range batch {
			if seen[acc.ID] {
				continue
			}
			seen[acc.ID] = true
			accounts = append(accounts, acc)
		}
	}

	if err := m.store.StoreAccounts(ctx, userID, accounts); err != nil {
		return nil, wrapStore(err, "write accounts")
	}
	m.logger.Info("stored accounts", "user", userID, "count", len(accounts))
	return accounts, nil
}

// Link exchanges a Link public token and adds the resulting access token to
// the user's set. Stored accounts are cleared so the new item's accounts
// show up on the next Accounts call.
func (m *Manager) Link(ctx context.Context, userID, publicToken string) (*api.ExchangeResult, error) {
	if userID == "" || publicToken == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "user id and public token are required")
	}

	res, err := m.upstream.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return nil, errors.Wrapf(ErrFetchFailed, "exchange public token: %v", err)
	}
	if err := m.AddToken(ctx, userID, res.AccessToken); err != nil {
		return nil, err
	}
	return res, nil
}

// AddToken adds an already exchanged access token for userID.
func (m *Manager) AddToken(ctx context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return errors.Wrap(ErrInvalidRequest, "user id and access token are required")
	}

	unlock := m.locks.lock(userID)
	defer unlock()

	if err := m.store.AddToken(ctx, userID, token); err != nil {
		return wrapStore(err, "add token")
	}
	if err := m.store.ClearAccounts(ctx, userID); err != nil {
		return wrapStore(err, "clear accounts")
	}
	m.logger.Info("linked item", "user", userID, "token", core.MaskToken(token))
	return nil
}

// Connected reports whether userID has at least one access token.
func (m *Manager) Connected(ctx context.Context, userID string) (bool, error) {
	tokens, err := m.store.Tokens(ctx, userID)
	if err != nil {
		return false, wrapStore(err, "read tokens")
	}
	return len(tokens) > 0, nil
}

// Status summarizes what is stored for one user.
type Status struct {
	Tokens    int
	Records   int
	Window    *Window
	FetchedAt time.Time
}

// Status reports the stored window, record count and token count for userID.
func (m *Manager) Status(ctx context.Context, userID string) (*Status, error) {
	tokens, err := m.store.Tokens(ctx, userID)
	if err != nil {
		return nil, wrapStore(err, "read tokens")
	}
	st := &Status{Tokens: len(tokens)}

	rs, err := m.store.ReadRecords(ctx, userID)
	if err != nil {
		return nil, wrapStore(err, "read records")
	}
	if rs != nil {
		w := rs.Window()
		st.Window = &w
		st.Records = len(rs.Transactions)
		st.FetchedAt = rs.FetchedAt
	}
	return st, nil
}

// fanOut runs fn for every token concurrently, at most limit at a time, and
// returns the results in token order. The first failure cancels the rest.
func fanOut[T any](ctx context.Context, tokens []string, limit int, fn func(context.Context, string) ([]T, error)) ([][]T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if limit <= 0 || limit > len(tokens) {
		limit = len(tokens)
	}

	results := make([][]T, len(tokens))
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	semaphore := make(chan struct{}, limit)
	for i, token := range tokens {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				fail(ctx.Err())
				return
			}
			defer func() { <-semaphore }()

			items, err := fn(ctx, token)
			if err != nil {
				fail(errors.Wrapf(err, "token %s", core.MaskToken(token)))
				return
			}
			results[i] = items
		}(i, token)
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// wrapStore tags err as a store failure unless it already carries a kind.
func wrapStore(err error, op string) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return errors.WithMessage(err, op)
	}
	return storeErr(op, err)
}
