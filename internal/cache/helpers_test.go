package cache

import (
	"context"
	"fmt"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/colthorp/txcache/internal/api"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func date(s string) civil.Date {
	d, err := civil.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func txnMap(id, account, day string) map[string]interface{} {
	return map[string]interface{}{
		"transaction_id": id,
		"account_id":     account,
		"date":           day,
		"amount":         12.5,
		"name":           "Coffee " + id,
		"personal_finance_category": map[string]interface{}{
			"primary":  "FOOD_AND_DRINK",
			"detailed": "FOOD_AND_DRINK_COFFEE",
		},
	}
}

func txn(t *testing.T, id, account, day string) api.Transaction {
	t.Helper()
	raw := fmt.Sprintf(`{"transaction_id":%q,"account_id":%q,"date":%q,"amount":12.5}`, id, account, day)
	out, err := api.NewTransaction([]byte(raw))
	require.NoError(t, err)
	return out
}

// seedDays seeds one transaction per day in [from, to] for token.
func seedDays(transport *api.InMemoryTransport, token, from, to string) {
	for d := date(from); !d.After(date(to)); d = d.AddDays(1) {
		transport.Seed(token, txnMap(token+"-"+d.String(), "acc-"+token, d.String()))
	}
}

func newTestManager(transport *api.InMemoryTransport, store Store, opts ...Option) *Manager {
	upstream := api.NewPlaidAPI(transport, api.Options{})
	return NewManager(upstream, store, opts...)
}

func ids(txns []api.Transaction) []string {
	out := make([]string, 0, len(txns))
	for _, t := range txns {
		out = append(out, t.ID)
	}
	return out
}

var errDiskOnFire = errors.New("disk on fire")

// failingStore wraps a MemoryStore and fails selected operations.
type failingStore struct {
	*MemoryStore
	failRead, failWrite, failTokens bool
	writes                          int
}

func (s *failingStore) ReadRecords(ctx context.Context, userID string) (*RecordSet, error) {
	if s.failRead {
		return nil, errDiskOnFire
	}
	return s.MemoryStore.ReadRecords(ctx, userID)
}

func (s *failingStore) WriteRecords(ctx context.Context, userID string, rs *RecordSet) error {
	s.writes++
	if s.failWrite {
		return errDiskOnFire
	}
	return s.MemoryStore.WriteRecords(ctx, userID, rs)
}

func (s *failingStore) Tokens(ctx context.Context, userID string) ([]string, error) {
	if s.failTokens {
		return nil, errDiskOnFire
	}
	return s.MemoryStore.Tokens(ctx, userID)
}
