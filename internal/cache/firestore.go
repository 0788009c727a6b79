package cache

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"cloud.google.com/go/civil"
	"cloud.google.com/go/firestore"
	"github.com/colthorp/txcache/internal/api"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps one document per user in each of the
// transactions, access_tokens and accounts collections.
type FirestoreStore struct {
	client *firestore.Client
}

type firestoreRecords struct {
	Transactions []map[string]interface{} `firestore:"transactions"`
	StartDate    string                   `firestore:"startDate"`
	EndDate      string                   `firestore:"endDate"`
	FetchedAt    time.Time                `firestore:"fetchedAt,omitempty"`
}

type firestoreTokens struct {
	Tokens []string `firestore:"tokens"`
}

type firestoreAccounts struct {
	Accounts []map[string]interface{} `firestore:"accounts"`
}

// NewFirestoreStore connects to the given project. FIRESTORE_EMULATOR_HOST
// is honoured by the client library.
func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, errors.Wrap(err, "firestore client")
	}
	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) doc(collection, userID string) *firestore.DocumentRef {
	return s.client.Collection(collection).Doc(url.PathEscape(userID))
}

// get loads a document into v, reporting false when it does not exist.
func (s *FirestoreStore) get(ctx context.Context, collection, userID string, v interface{}) (bool, error) {
	snap, err := s.doc(collection, userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := snap.DataTo(v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FirestoreStore) ReadRecords(ctx context.Context, userID string) (*RecordSet, error) {
	var doc firestoreRecords
	ok, err := s.get(ctx, transactionsDir, userID, &doc)
	if err != nil || !ok {
		return nil, err
	}

	start, err1 := civil.ParseDate(doc.StartDate)
	end, err2 := civil.ParseDate(doc.EndDate)
	if err1 != nil || err2 != nil {
		return nil, nil
	}

	txns := make([]api.Transaction, 0, len(doc.Transactions))
	for _, m := range doc.Transactions {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, err
		}
		txn, err := api.NewTransaction(raw)
		if err != nil {
			// A record without id or date cannot be trusted to cover anything
			return nil, nil
		}
		txns = append(txns, txn)
	}

	return &RecordSet{
		Transactions: txns,
		WindowStart:  start,
		WindowEnd:    end,
		FetchedAt:    doc.FetchedAt,
	}, nil
}

func (s *FirestoreStore) WriteRecords(ctx context.Context, userID string, rs *RecordSet) error {
	doc := firestoreRecords{
		Transactions: make([]map[string]interface{}, 0, len(rs.Transactions)),
		StartDate:    rs.WindowStart.String(),
		EndDate:      rs.WindowEnd.String(),
		FetchedAt:    rs.FetchedAt,
	}
	for _, txn := range rs.Transactions {
		m, err := rawToMap(txn.Raw)
		if err != nil {
			return errors.Wrapf(err, "transaction %s", txn.ID)
		}
		doc.Transactions = append(doc.Transactions, m)
	}

	_, err := s.doc(transactionsDir, userID).Set(ctx, doc)
	return err
}

func (s *FirestoreStore) Tokens(ctx context.Context, userID string) ([]string, error) {
	var doc firestoreTokens
	if _, err := s.get(ctx, tokensDir, userID, &doc); err != nil {
		return nil, err
	}
	if doc.Tokens == nil {
		return []string{}, nil
	}
	return doc.Tokens, nil
}

func (s *FirestoreStore) AddToken(ctx context.Context, userID, token string) error {
	_, err := s.doc(tokensDir, userID).Set(ctx, map[string]interface{}{
		"tokens": firestore.ArrayUnion(token),
	}, firestore.MergeAll)
	return err
}

func (s *FirestoreStore) Accounts(ctx context.Context, userID string) ([]api.Account, bool, error) {
	var doc firestoreAccounts
	ok, err := s.get(ctx, accountsDir, userID, &doc)
	if err != nil {
		return nil, false, err
	}

	accounts := make([]api.Account, 0, len(doc.Accounts))
	for _, m := range doc.Accounts {
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, false, err
		}
		acc, err := api.NewAccount(raw)
		if err != nil {
			continue
		}
		accounts = append(accounts, acc)
	}
	return accounts, ok, nil
}

func (s *FirestoreStore) StoreAccounts(ctx context.Context, userID string, accounts []api.Account) error {
	doc := firestoreAccounts{Accounts: make([]map[string]interface{}, 0, len(accounts))}
	for _, acc := range accounts {
		m, err := rawToMap(acc.Raw)
		if err != nil {
			return errors.Wrapf(err, "account %s", acc.ID)
		}
		doc.Accounts = append(doc.Accounts, m)
	}

	_, err := s.doc(accountsDir, userID).Set(ctx, doc)
	return err
}

func (s *FirestoreStore) ClearAccounts(ctx context.Context, userID string) error {
	_, err := s.doc(accountsDir, userID).Delete(ctx)
	return err
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func rawToMap(raw json.RawMessage) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
