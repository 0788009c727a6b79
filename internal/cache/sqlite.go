package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"
	"github.com/colthorp/txcache/internal/api"
	"github.com/go-gorp/gorp/v3"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore keeps the three collections in a single SQLite file,
// mapped through gorp.
type SQLiteStore struct {
	dbmap *gorp.DbMap
}

type recordRow struct {
	UserID       string    `db:"user_id"`
	WindowStart  string    `db:"window_start"`
	WindowEnd    string    `db:"window_end"`
	Transactions string    `db:"transactions"`
	FetchedAt    time.Time `db:"fetched_at"`
}

// tokenRow keeps insertion order through the autoincrement seq.
type tokenRow struct {
	Seq    int64  `db:"seq"`
	UserID string `db:"user_id"`
	Token  string `db:"token"`
}

type accountsRow struct {
	UserID   string `db:"user_id"`
	Accounts string `db:"accounts"`
}

// NewSQLiteStore opens (creating if needed) the database at path.
// trace, when non-nil, receives every SQL statement.
func NewSQLiteStore(path string, trace *log.Logger) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer; a single connection also keeps :memory: coherent
	db.SetMaxOpenConns(1)

	dbmap := &gorp.DbMap{Db: db, Dialect: gorp.SqliteDialect{}}
	if trace != nil {
		dbmap.TraceOn("", trace)
	}

	dbmap.AddTableWithName(recordRow{}, "transactions").SetKeys(false, "UserID")
	dbmap.AddTableWithName(tokenRow{}, "access_tokens").
		SetKeys(true, "Seq").
		SetUniqueTogether("user_id", "token")
	dbmap.AddTableWithName(accountsRow{}, "accounts").SetKeys(false, "UserID")

	if err := dbmap.CreateTablesIfNotExists(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create tables")
	}

	return &SQLiteStore{dbmap: dbmap}, nil
}

func (s *SQLiteStore) ReadRecords(ctx context.Context, userID string) (*RecordSet, error) {
	var row recordRow
	err := s.dbmap.WithContext(ctx).SelectOne(&row, "select * from transactions where user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var txns []api.Transaction
	start, err1 := civil.ParseDate(row.WindowStart)
	end, err2 := civil.ParseDate(row.WindowEnd)
	if err1 != nil || err2 != nil || json.Unmarshal([]byte(row.Transactions), &txns) != nil {
		// Corrupt row, drop it
		if _, err := s.dbmap.WithContext(ctx).Exec("delete from transactions where user_id = ?", userID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	if txns == nil {
		txns = []api.Transaction{}
	}

	return &RecordSet{
		Transactions: txns,
		WindowStart:  start,
		WindowEnd:    end,
		FetchedAt:    row.FetchedAt,
	}, nil
}

func (s *SQLiteStore) WriteRecords(ctx context.Context, userID string, rs *RecordSet) error {
	txns := rs.Transactions
	if txns == nil {
		txns = []api.Transaction{}
	}
	data, err := json.Marshal(txns)
	if err != nil {
		return err
	}

	row := &recordRow{
		UserID:       userID,
		WindowStart:  rs.WindowStart.String(),
		WindowEnd:    rs.WindowEnd.String(),
		Transactions: string(data),
		FetchedAt:    rs.FetchedAt,
	}
	return s.replace(ctx, "transactions", userID, row)
}

// replace swaps the user's row in table for row inside one transaction.
func (s *SQLiteStore) replace(ctx context.Context, table, userID string, row interface{}) error {
	tx, err := s.dbmap.Begin()
	if err != nil {
		return err
	}
	ex := tx.WithContext(ctx)

	if _, err := ex.Exec("delete from "+table+" where user_id = ?", userID); err != nil {
		tx.Rollback()
		return err
	}
	if err := ex.Insert(row); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Tokens(ctx context.Context, userID string) ([]string, error) {
	var rows []tokenRow
	if _, err := s.dbmap.WithContext(ctx).Select(&rows,
		"select * from access_tokens where user_id = ? order by seq", userID); err != nil {
		return nil, err
	}

	tokens := make([]string, 0, len(rows))
	for _, r := range rows {
		tokens = append(tokens, r.Token)
	}
	return tokens, nil
}

func (s *SQLiteStore) AddToken(ctx context.Context, userID, token string) error {
	_, err := s.dbmap.WithContext(ctx).Exec(
		"insert or ignore into access_tokens (user_id, token) values (?, ?)", userID, token)
	return err
}

func (s *SQLiteStore) Accounts(ctx context.Context, userID string) ([]api.Account, bool, error) {
	var row accountsRow
	err := s.dbmap.WithContext(ctx).SelectOne(&row, "select * from accounts where user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return []api.Account{}, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	accounts := make([]api.Account, 0)
	if err := json.Unmarshal([]byte(row.Accounts), &accounts); err != nil {
		// Corrupt rows read as absent and are refetched.
		if err := s.ClearAccounts(ctx, userID); err != nil {
			return nil, false, err
		}
		return []api.Account{}, false, nil
	}
	return accounts, true, nil
}

func (s *SQLiteStore) StoreAccounts(ctx context.Context, userID string, accounts []api.Account) error {
	if accounts == nil {
		accounts = []api.Account{}
	}
	data, err := json.Marshal(accounts)
	if err != nil {
		return err
	}
	return s.replace(ctx, "accounts", userID, &accountsRow{UserID: userID, Accounts: string(data)})
}

func (s *SQLiteStore) ClearAccounts(ctx context.Context, userID string) error {
	_, err := s.dbmap.WithContext(ctx).Exec("delete from accounts where user_id = ?", userID)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.dbmap.Db.Close()
}
