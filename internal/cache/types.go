// Package cache provides the per-user transaction range cache.
//
// # Overview
//
// For every user the cache keeps one record set: the user's transactions
// together with the inclusive calendar window they cover. The covering
// invariant is that the set holds every transaction dated inside
// [WindowStart, WindowEnd] for every access token the user had when the set
// was written. An empty set with a window is a valid, covering answer.
//
// # Resolution
//
// A requested window that lies inside the stored one is served from storage
// with no upstream call. Otherwise the fetch window is the union of the stored
// and the requested windows; it is fetched for every token of the user
// concurrently, merged, and written back as a full replacement. The stored
// window therefore never shrinks.
//
// # Failure
//
// Any fetch failure aborts the resolution before anything is written, so a
// partially fetched window can never be recorded as covered.
package cache

import (
	"context"
	"io"
	"time"

	"cloud.google.com/go/civil"
	"github.com/colthorp/txcache/internal/api"
)

// Window is an inclusive range of calendar dates.
type Window struct {
	Start civil.Date
	End   civil.Date
}

// RecordSet is the cached state for one user.
//
// Fields:
//   - Transactions: insertion-ordered, unique by ID
//   - WindowStart/WindowEnd: inclusive coverage of Transactions
//   - FetchedAt: when the set was written (informational only)
type RecordSet struct {
	Transactions []api.Transaction
	WindowStart  civil.Date
	WindowEnd    civil.Date
	FetchedAt    time.Time
}

// Window returns the coverage window of the set.
func (rs *RecordSet) Window() Window {
	return Window{Start: rs.WindowStart, End: rs.WindowEnd}
}

// recordSetPayload is the JSON document layout shared by the file-based
// stores. Field names match the original Firestore documents.
type recordSetPayload struct {
	Transactions []api.Transaction `json:"transactions"`
	StartDate    string            `json:"startDate"`
	EndDate      string            `json:"endDate"`
	FetchedAt    time.Time         `json:"fetchedAt,omitempty"`
}

// RecordStore persists one RecordSet per user.
type RecordStore interface {
	// ReadRecords returns the stored set, or nil with no error if the user has none.
	ReadRecords(ctx context.Context, userID string) (*RecordSet, error)

	// WriteRecords replaces whatever is stored for the user.
	WriteRecords(ctx context.Context, userID string, rs *RecordSet) error
}

// TokenStore maps a user to the access tokens of their linked items.
type TokenStore interface {
	// Tokens returns the user's tokens in the order they were added.
	Tokens(ctx context.Context, userID string) ([]string, error)

	// AddToken adds token to the user's set. Adding an existing token is a no-op.
	AddToken(ctx context.Context, userID, token string) error
}

// AccountStore caches the accounts of a user's linked items.
type AccountStore interface {
	// Accounts returns the stored accounts. ok is false when nothing has
	// been stored since the last clear; a stored empty list reports true.
	Accounts(ctx context.Context, userID string) (accounts []api.Account, ok bool, err error)

	// StoreAccounts replaces the stored accounts.
	StoreAccounts(ctx context.Context, userID string, accounts []api.Account) error

	// ClearAccounts forgets the stored accounts so the next read reports !ok.
	ClearAccounts(ctx context.Context, userID string) error
}

// Store is a backend serving all three stores.
// Implementations: MemoryStore, FilesystemStore, SQLiteStore, FirestoreStore.
type Store interface {
	RecordStore
	TokenStore
	AccountStore
	io.Closer
}

// TransactionFetcher returns every transaction dated within [start, end]
// for the item behind token. *api.PlaidAPI implements it.
type TransactionFetcher interface {
	FetchTransactions(ctx context.Context, token string, start, end civil.Date) ([]api.Transaction, error)
}

// AccountFetcher returns the accounts of the item behind token.
type AccountFetcher interface {
	GetAccounts(ctx context.Context, token string) ([]api.Account, error)
}

// TokenExchanger swaps a Link public token for an access token.
type TokenExchanger interface {
	ExchangePublicToken(ctx context.Context, publicToken string) (*api.ExchangeResult, error)
}

// Upstream is everything the Manager needs from the financial-data API.
type Upstream interface {
	TransactionFetcher
	AccountFetcher
	TokenExchanger
}
