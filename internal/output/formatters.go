// Package output turns cached records into the shapes txcache hands out:
// filtered transaction lists, client-facing JSON views and CLI text.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"cloud.google.com/go/civil"
	"github.com/colthorp/txcache/internal/api"
)

// Filter narrows a transaction list. Empty fields match everything.
type Filter struct {
	AccountID string
	Category  string
	Start     civil.Date
	End       civil.Date
}

// Match reports whether txn passes f.
func (f Filter) Match(txn api.Transaction) bool {
	if f.AccountID != "" && txn.AccountID() != f.AccountID {
		return false
	}
	if f.Category != "" && txn.PrimaryCategory() != f.Category {
		return false
	}
	if f.Start.IsValid() && txn.Date.Before(f.Start) {
		return false
	}
	if f.End.IsValid() && txn.Date.After(f.End) {
		return false
	}
	return true
}

// FilterTransactions returns the transactions matching f, in their original order.
func FilterTransactions(txns []api.Transaction, f Filter) []api.Transaction {
	out := make([]api.Transaction, 0, len(txns))
	for _, txn := range txns {
		if f.Match(txn) {
			out = append(out, txn)
		}
	}
	return out
}

// TransactionView is the client-facing shape of a transaction.
// Fields absent upstream are rendered as null.
type TransactionView struct {
	ID               string      `json:"id"`
	AccountID        string      `json:"accountId"`
	Date             string      `json:"date"`
	Amount           interface{} `json:"amount"`
	Name             interface{} `json:"name"`
	Category         interface{} `json:"category"`
	DetailedCategory interface{} `json:"detailed_category"`
	CategoryLogoURL  interface{} `json:"category_logo_url"`
	Merchant         interface{} `json:"merchant"`
	LogoURL          interface{} `json:"logo_url"`
}

func NewTransactionView(txn api.Transaction) TransactionView {
	return TransactionView{
		ID:               txn.ID,
		AccountID:        txn.AccountID(),
		Date:             txn.Date.String(),
		Amount:           txn.Get("amount").Value(),
		Name:             txn.Get("name").Value(),
		Category:         txn.Get("personal_finance_category.primary").Value(),
		DetailedCategory: txn.Get("personal_finance_category.detailed").Value(),
		CategoryLogoURL:  txn.Get("personal_finance_category_icon_url").Value(),
		Merchant:         txn.Get("merchant_name").Value(),
		LogoURL:          txn.Get("logo_url").Value(),
	}
}

// TransactionViews maps NewTransactionView over txns. Never returns nil.
func TransactionViews(txns []api.Transaction) []TransactionView {
	views := make([]TransactionView, 0, len(txns))
	for _, txn := range txns {
		views = append(views, NewTransactionView(txn))
	}
	return views
}

// AccountView is the client-facing shape of an account.
type AccountView struct {
	ID               string      `json:"id"`
	Name             interface{} `json:"name"`
	OfficialName     interface{} `json:"official_name"`
	AvailableBalance interface{} `json:"available_balance"`
	CurrentBalance   interface{} `json:"current_balance"`
	Type             interface{} `json:"type"`
	Subtype          interface{} `json:"subtype"`
}

func NewAccountView(acc api.Account) AccountView {
	return AccountView{
		ID:               acc.ID,
		Name:             acc.Get("name").Value(),
		OfficialName:     acc.Get("official_name").Value(),
		AvailableBalance: acc.Get("balances.available").Value(),
		CurrentBalance:   acc.Get("balances.current").Value(),
		Type:             acc.Get("type").Value(),
		Subtype:          acc.Get("subtype").Value(),
	}
}

// AccountViews maps NewAccountView over accounts. Never returns nil.
func AccountViews(accounts []api.Account) []AccountView {
	views := make([]AccountView, 0, len(accounts))
	for _, acc := range accounts {
		views = append(views, NewAccountView(acc))
	}
	return views
}

// WriteJSON writes v as indented JSON followed by a newline.
func WriteJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// WriteJSONArray writes items as a compact JSON array, one item at a time.
func WriteJSONArray[T any](w io.Writer, items []T) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i, item := range items {
		if i > 0 {
			io.WriteString(w, ",")
		}
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]\n")
	return err
}

// PrintTransactionTable prints one aligned line per transaction.
func PrintTransactionTable(w io.Writer, txns []api.Transaction) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tAMOUNT\tNAME\tCATEGORY\tACCOUNT")
	for _, txn := range txns {
		name := txn.Get("merchant_name").String()
		if name == "" {
			name = txn.Get("name").String()
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%s\t%s\t%s\n",
			txn.Date, txn.Get("amount").Float(), name, txn.PrimaryCategory(), txn.AccountID())
	}
	tw.Flush()
}

// PrintAccountTable prints one aligned line per account.
func PrintAccountTable(w io.Writer, accounts []api.Account) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tAVAILABLE\tCURRENT")
	for _, acc := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			acc.ID,
			acc.Get("name").String(),
			acc.Get("subtype").String(),
			acc.Get("balances.available").String(),
			acc.Get("balances.current").String())
	}
	tw.Flush()
}
