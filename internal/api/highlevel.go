package api

import (
	"context"
	"log/slog"

	"cloud.google.com/go/civil"
	"github.com/colthorp/txcache/internal/core"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Options configures the typed Plaid layer.
type Options struct {
	ClientName  string
	RedirectURI string
	PageSize    int
	Logger      *slog.Logger
}

// PlaidAPI provides a typed convenience layer over the Plaid REST API.
type PlaidAPI struct {
	transport   Transport
	clientName  string
	redirectURI string
	pageSize    int
	logger      *slog.Logger
}

// NewPlaidAPI creates a new high-level API client over transport.
func NewPlaidAPI(transport Transport, opts Options) *PlaidAPI {
	if opts.ClientName == "" {
		opts.ClientName = core.PlaidClientName
	}
	if opts.PageSize <= 0 {
		opts.PageSize = core.TransactionsPageSize
	}
	if opts.Logger == nil {
		opts.Logger = core.NopLogger()
	}
	return &PlaidAPI{
		transport:   transport,
		clientName:  opts.ClientName,
		redirectURI: opts.RedirectURI,
		pageSize:    opts.PageSize,
		logger:      opts.Logger.With("component", "api"),
	}
}

// CreateLinkToken creates a Link token for the given user.
func (p *PlaidAPI) CreateLinkToken(ctx context.Context, userID string) (*LinkToken, error) {
	payload := map[string]interface{}{
		"client_name":   p.clientName,
		"language":      core.PlaidLanguage,
		"country_codes": []string{core.PlaidCountry},
		"products":      []string{core.PlaidProduct},
		"user":          map[string]interface{}{"client_user_id": userID},
	}
	if p.redirectURI != "" {
		payload["redirect_uri"] = p.redirectURI
	}

	body, err := p.transport.Request(ctx, "link/token/create", payload)
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	token := &LinkToken{
		LinkToken:  res.Get("link_token").String(),
		Expiration: res.Get("expiration").String(),
		RequestID:  res.Get("request_id").String(),
	}
	if token.LinkToken == "" {
		return nil, errors.Wrap(ErrMalformedResponse, "link token missing from response")
	}

	p.logger.Info("created a link token", "request_id", token.RequestID)
	return token, nil
}

// ExchangePublicToken swaps a Link public token for a long-lived access token.
func (p *PlaidAPI) ExchangePublicToken(ctx context.Context, publicToken string) (*ExchangeResult, error) {
	body, err := p.transport.Request(ctx, "item/public_token/exchange", map[string]interface{}{
		"public_token": publicToken,
	})
	if err != nil {
		return nil, err
	}

	res := gjson.ParseBytes(body)
	result := &ExchangeResult{
		AccessToken: res.Get("access_token").String(),
		ItemID:      res.Get("item_id").String(),
		RequestID:   res.Get("request_id").String(),
	}
	if result.AccessToken == "" {
		return nil, errors.Wrap(ErrMalformedResponse, "access token missing from response")
	}
	return result, nil
}

// GetAccounts returns every account of the item behind token.
func (p *PlaidAPI) GetAccounts(ctx context.Context, token string) ([]Account, error) {
	body, err := p.transport.Request(ctx, "accounts/get", map[string]interface{}{
		"access_token": token,
	})
	if err != nil {
		return nil, err
	}

	list := gjson.GetBytes(body, "accounts")
	if !list.IsArray() {
		return nil, errors.Wrap(ErrMalformedResponse, "accounts missing from response")
	}

	accounts := make([]Account, 0)
	var parseErr error
	list.ForEach(func(_, value gjson.Result) bool {
		acc, err := NewAccount([]byte(value.Raw))
		if err != nil {
			parseErr = err
			return false
		}
		accounts = append(accounts, acc)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return accounts, nil
}

// FetchTransactions returns every transaction dated within [start, end] for
// the item behind token. Pages through /transactions/get until
// total_transactions is reached.
func (p *PlaidAPI) FetchTransactions(ctx context.Context, token string, start, end civil.Date) ([]Transaction, error) {
	p.logger.Debug("fetching transactions", "token", core.MaskToken(token), "start", start.String(), "end", end.String())

	txns := make([]Transaction, 0)
	offset := 0
	pages := 0

	for {
		body, err := p.transport.Request(ctx, "transactions/get", map[string]interface{}{
			"access_token": token,
			"start_date":   start.String(),
			"end_date":     end.String(),
			"options": map[string]interface{}{
				"count":  p.pageSize,
				"offset": offset,
			},
		})
		if err != nil {
			return nil, err
		}
		pages++

		res := gjson.ParseBytes(body)
		list, totalField := res.Get("transactions"), res.Get("total_transactions")
		if !list.IsArray() || totalField.Type != gjson.Number {
			return nil, errors.Wrap(ErrMalformedResponse, "transactions or total_transactions missing from response")
		}
		total := int(totalField.Int())

		page := list.Array()
		for _, item := range page {
			txn, err := NewTransaction([]byte(item.Raw))
			if err != nil {
				return nil, err
			}
			txns = append(txns, txn)
		}
		offset += len(page)

		p.logger.Debug("fetched page", "page", pages, "items", len(page), "total_so_far", offset, "total", total)

		if len(page) == 0 || offset >= total {
			break
		}
	}

	p.logger.Debug("pagination complete", "token", core.MaskToken(token), "items", len(txns), "pages", pages)
	return txns, nil
}
