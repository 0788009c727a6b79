// Package api provides the HTTP client and types for the Plaid API.
package api

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/civil"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var (
	ErrMalformedTransaction = errors.New("malformed transaction")
	ErrMalformedAccount     = errors.New("malformed account")
	ErrMalformedResponse    = errors.New("malformed plaid response")
)

// Transaction is a single Plaid transaction. The body is kept verbatim; only
// the id and the calendar date are extracted up front.
type Transaction struct {
	ID   string
	Date civil.Date
	Raw  json.RawMessage
}

// NewTransaction builds a Transaction from a raw Plaid transaction object.
func NewTransaction(raw []byte) (Transaction, error) {
	if !gjson.ValidBytes(raw) {
		return Transaction{}, errors.Wrap(ErrMalformedTransaction, "invalid json")
	}

	id := gjson.GetBytes(raw, "transaction_id")
	if !id.Exists() || id.String() == "" {
		return Transaction{}, errors.Wrap(ErrMalformedTransaction, "missing transaction_id")
	}

	dateStr := gjson.GetBytes(raw, "date").String()
	d, err := civil.ParseDate(dateStr)
	if err != nil {
		return Transaction{}, errors.Wrapf(ErrMalformedTransaction, "transaction %s has bad date %q", id.String(), dateStr)
	}

	body := make(json.RawMessage, len(raw))
	copy(body, raw)

	return Transaction{ID: id.String(), Date: d, Raw: body}, nil
}

// AccountID returns the account the transaction belongs to.
func (t Transaction) AccountID() string {
	return t.Get("account_id").String()
}

// PrimaryCategory returns personal_finance_category.primary.
func (t Transaction) PrimaryCategory() string {
	return t.Get("personal_finance_category.primary").String()
}

// Get reads an arbitrary path out of the transaction body.
func (t Transaction) Get(path string) gjson.Result {
	return gjson.GetBytes(t.Raw, path)
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	if len(t.Raw) == 0 {
		return []byte("null"), nil
	}
	return t.Raw, nil
}

func (t *Transaction) UnmarshalJSON(b []byte) error {
	parsed, err := NewTransaction(b)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Account is a single Plaid account (AccountBase).
type Account struct {
	ID  string
	Raw json.RawMessage
}

// NewAccount builds an Account from a raw Plaid account object.
func NewAccount(raw []byte) (Account, error) {
	if !gjson.ValidBytes(raw) {
		return Account{}, errors.Wrap(ErrMalformedAccount, "invalid json")
	}
	id := gjson.GetBytes(raw, "account_id").String()
	if id == "" {
		return Account{}, errors.Wrap(ErrMalformedAccount, "missing account_id")
	}

	body := make(json.RawMessage, len(raw))
	copy(body, raw)

	return Account{ID: id, Raw: body}, nil
}

// Get reads an arbitrary path out of the account body.
func (a Account) Get(path string) gjson.Result {
	return gjson.GetBytes(a.Raw, path)
}

func (a Account) MarshalJSON() ([]byte, error) {
	if len(a.Raw) == 0 {
		return []byte("null"), nil
	}
	return a.Raw, nil
}

func (a *Account) UnmarshalJSON(b []byte) error {
	parsed, err := NewAccount(b)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// LinkToken is the result of /link/token/create.
type LinkToken struct {
	LinkToken  string `json:"link_token"`
	Expiration string `json:"expiration"`
	RequestID  string `json:"request_id"`
}

// ExchangeResult is the result of /item/public_token/exchange.
type ExchangeResult struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
	RequestID   string `json:"request_id"`
}

// Transport is the interface for making API requests. Implementations POST
// payload as JSON to endpoint and return the raw response body.
type Transport interface {
	Request(ctx context.Context, endpoint string, payload map[string]interface{}) ([]byte, error)
}
