package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/colthorp/txcache/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTransaction = `{
	"transaction_id": "test_id",
	"account_id": "test_accnt_id",
	"date": "2024-08-20",
	"name": "name",
	"amount": 100,
	"personal_finance_category": {"primary": "test_primary", "detailed": "test_detailed"},
	"personal_finance_category_icon_url": "test_pf_url",
	"merchant_name": "test_merchant",
	"logo_url": "test_url"
}`

func mustTxn(t *testing.T, raw string) api.Transaction {
	t.Helper()
	txn, err := api.NewTransaction([]byte(raw))
	require.NoError(t, err)
	return txn
}

func simpleTxn(t *testing.T, id, account, category, day string) api.Transaction {
	return mustTxn(t, fmt.Sprintf(
		`{"transaction_id":%q,"account_id":%q,"date":%q,"amount":1,"personal_finance_category":{"primary":%q}}`,
		id, account, day, category))
}

func date(s string) civil.Date {
	d, _ := civil.ParseDate(s)
	return d
}

func ids(txns []api.Transaction) []string {
	out := []string{}
	for _, t := range txns {
		out = append(out, t.ID)
	}
	return out
}

func TestFilterTransactionsByAccount(t *testing.T) {
	txns := []api.Transaction{
		simpleTxn(t, "1", "A", "FOOD", "2024-08-01"),
		simpleTxn(t, "2", "B", "FOOD", "2024-08-02"),
		simpleTxn(t, "3", "A", "RENT", "2024-08-03"),
	}

	got := FilterTransactions(txns, Filter{AccountID: "A", Start: date("2024-08-01"), End: date("2024-08-10")})
	assert.Equal(t, []string{"1", "3"}, ids(got))
}

func TestFilterTransactions(t *testing.T) {
	txns := []api.Transaction{
		simpleTxn(t, "1", "A", "FOOD", "2024-08-01"),
		simpleTxn(t, "2", "B", "FOOD", "2024-08-05"),
		simpleTxn(t, "3", "A", "RENT", "2024-08-09"),
		simpleTxn(t, "4", "B", "RENT", "2024-08-12"),
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"no filter", Filter{}, []string{"1", "2", "3", "4"}},
		{"category", Filter{Category: "RENT"}, []string{"3", "4"}},
		{"account and category", Filter{AccountID: "B", Category: "FOOD"}, []string{"2"}},
		{"window", Filter{Start: date("2024-08-05"), End: date("2024-08-09")}, []string{"2", "3"}},
		{"single day", Filter{Start: date("2024-08-12"), End: date("2024-08-12")}, []string{"4"}},
		{"nothing matches", Filter{AccountID: "C"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(FilterTransactions(txns, tt.filter)))
		})
	}
}

func TestTransactionView(t *testing.T) {
	view := NewTransactionView(mustTxn(t, sampleTransaction))

	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id": "test_id",
		"accountId": "test_accnt_id",
		"date": "2024-08-20",
		"amount": 100,
		"name": "name",
		"category": "test_primary",
		"detailed_category": "test_detailed",
		"category_logo_url": "test_pf_url",
		"merchant": "test_merchant",
		"logo_url": "test_url"
	}`, string(data))
}

func TestTransactionViewMissingFieldsAreNull(t *testing.T) {
	view := NewTransactionView(mustTxn(t, `{"transaction_id":"x","date":"2024-08-20"}`))
	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"merchant":null`)
	assert.Contains(t, string(data), `"accountId":""`)
}

func TestAccountView(t *testing.T) {
	acc, err := api.NewAccount([]byte(`{
		"account_id": "test_id",
		"balances": {"available": 100, "current": 100, "limit": null},
		"mask": null,
		"name": "test_name",
		"official_name": "test_official_name",
		"type": "depository",
		"subtype": "checking"
	}`))
	require.NoError(t, err)

	data, err := json.Marshal(AccountViews([]api.Account{acc}))
	require.NoError(t, err)
	assert.JSONEq(t, `[{
		"id": "test_id",
		"name": "test_name",
		"official_name": "test_official_name",
		"available_balance": 100,
		"current_balance": 100,
		"type": "depository",
		"subtype": "checking"
	}]`, string(data))
}

func TestWriteJSONArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSONArray(&buf, TransactionViews(nil)))
	assert.Equal(t, "[]\n", buf.String())

	buf.Reset()
	require.NoError(t, WriteJSONArray(&buf, []int{1, 2, 3}))
	assert.Equal(t, "[1,2,3]\n", buf.String())
}

func TestPrintTransactionTable(t *testing.T) {
	var buf bytes.Buffer
	PrintTransactionTable(&buf, []api.Transaction{mustTxn(t, sampleTransaction)})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "DATE"))
	assert.Contains(t, lines[1], "2024-08-20")
	assert.Contains(t, lines[1], "100.00")
	assert.Contains(t, lines[1], "test_merchant")
}
