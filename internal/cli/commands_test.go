package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/colthorp/txcache/internal/api"
	"github.com/colthorp/txcache/internal/core"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// cliOptions is what runCLI builds each command's app with.
var cliOptions appOptions

// useTransport routes every command of the test through transport and pins
// the clock to 2024-08-21.
func useTransport(t *testing.T, transport api.Transport) {
	t.Helper()

	cliOptions = appOptions{
		transport: func(*core.Config, *slog.Logger) api.Transport { return transport },
		logOutput: io.Discard,
		now:       func() time.Time { return time.Date(2024, 8, 21, 9, 0, 0, 0, time.UTC) },
	}

	t.Cleanup(func() {
		cliOptions = appOptions{}
		resetFlags(rootCmd)
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(append([]string{"--quiet", "--env-file", ""}, args...))
	err := rootCmd.ExecuteContext(withAppOptions(context.Background(), cliOptions))
	return out.String(), err
}

func seededTransport() *api.InMemoryTransport {
	transport := api.NewInMemoryTransport()
	transport.Seed("tok-1",
		txnFixture("t1", "acc-1", "2024-08-01", "FOOD_AND_DRINK"),
		txnFixture("t2", "acc-1", "2024-08-02", "TRAVEL"),
		txnFixture("t3", "acc-2", "2024-08-03", "FOOD_AND_DRINK"),
		txnFixture("t4", "acc-2", "2024-08-04", "RENT_AND_UTILITIES"),
	)
	transport.SeedAccounts("tok-1", map[string]interface{}{
		"account_id": "acc-1",
		"name":       "Checking",
	})
	return transport
}

func decodeArray(t *testing.T, s string) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &out), s)
	return out
}

func TestCLITransactionsPersistAcrossRuns(t *testing.T) {
	for _, kind := range []string{core.StoreFilesystem, core.StoreSQLite} {
		t.Run(kind, func(t *testing.T) {
			transport := seededTransport()
			useTransport(t, transport)

			path := filepath.Join(t.TempDir(), "store")
			storeArgs := []string{"--store", kind, "--store-path", path}
			run := func(args ...string) string {
				out, err := runCLI(t, append(storeArgs, args...)...)
				require.NoError(t, err)
				return out
			}

			assert.Contains(t, run("add-token", "--user", "alice", "tok-1"), "Stored token ****ok-1 for alice")

			views := decodeArray(t, run("transactions", "-u", "alice", "--start", "2024-08-01", "--end", "2024-08-04", "--raw"))
			require.Len(t, views, 4)
			assert.Equal(t, "t4", views[0]["id"])
			assert.Equal(t, "acc-2", views[0]["accountId"])

			// A narrower window is served from the store written by the previous run.
			views = decodeArray(t, run("transactions", "-u", "alice", "--start", "2024-08-02", "--end", "2024-08-03", "--raw"))
			assert.Len(t, views, 2)
			assert.Equal(t, 1, transport.RequestsMade("transactions/get"))

			status := run("status", "--user", "alice")
			assert.Contains(t, status, "Tokens:  1")
			assert.Contains(t, status, "Window:  2024-08-01 to 2024-08-04")
			assert.Contains(t, status, "Records: 4")
		})
	}
}

func TestCLITransactionsFiltersAndTable(t *testing.T) {
	transport := seededTransport()
	useTransport(t, transport)
	path := t.TempDir()

	_, err := runCLI(t, "--store-path", path, "add-token", "--user", "alice", "tok-1")
	require.NoError(t, err)

	out, err := runCLI(t, "--store-path", path, "transactions", "-u", "alice", "--start", "2024-08-01", "--end", "2024-08-04", "--category", "FOOD_AND_DRINK", "--raw")
	require.NoError(t, err)
	assert.Len(t, decodeArray(t, out), 2)

	out, err = runCLI(t, "--store-path", path, "transactions", "-u", "alice", "--start", "2024-08-01", "--end", "2024-08-04", "--account", "acc-1")
	require.NoError(t, err)
	assert.Contains(t, out, "t1")
	assert.Contains(t, out, "t2")
	assert.NotContains(t, out, "t3")
}

func TestCLITransactionsWithoutItems(t *testing.T) {
	transport := seededTransport()
	useTransport(t, transport)

	out, err := runCLI(t, "--store", core.StoreMemory, "transactions", "-u", "nobody", "--raw")
	require.NoError(t, err)
	assert.Empty(t, decodeArray(t, out))
	assert.Equal(t, 0, transport.RequestsMade())
}

func TestCLITransactionsRejectsBadFlags(t *testing.T) {
	useTransport(t, seededTransport())

	_, err := runCLI(t, "--store", core.StoreMemory, "transactions", "-u", "alice", "--period", "this-month", "--start", "today")
	assert.Error(t, err)

	_, err = runCLI(t, "--store", core.StoreMemory, "transactions", "-u", "alice", "--start", "2024-08-05", "--end", "2024-08-01")
	assert.True(t, errors.Is(err, core.ErrInvalidDate), "got %v", err)

	_, err = runCLI(t, "--store", core.StoreMemory, "transactions")
	assert.Error(t, err, "--user is required")

	_, err = runCLI(t, "--store", "postgres", "status", "-u", "alice")
	assert.True(t, errors.Is(err, core.ErrInvalidConfig), "got %v", err)
}

func TestCLILinkFlow(t *testing.T) {
	transport := seededTransport()
	useTransport(t, transport)
	path := t.TempDir()

	out, err := runCLI(t, "--store-path", path, "link-token", "--user", "bob")
	require.NoError(t, err)
	var token api.LinkToken
	require.NoError(t, json.Unmarshal([]byte(out), &token))
	assert.Equal(t, "link-sandbox-bob", token.LinkToken)

	out, err = runCLI(t, "--store-path", path, "exchange-token", "--user", "bob", "public-abc")
	require.NoError(t, err)
	assert.Contains(t, out, "Linked item item-public-abc for bob")

	out, err = runCLI(t, "--store-path", path, "status", "--user", "bob")
	require.NoError(t, err)
	assert.Contains(t, out, "Tokens:  1")
	assert.Contains(t, out, "nothing cached")
}

func TestCLIAccounts(t *testing.T) {
	transport := seededTransport()
	useTransport(t, transport)
	path := t.TempDir()

	_, err := runCLI(t, "--store-path", path, "add-token", "--user", "alice", "tok-1")
	require.NoError(t, err)

	out, err := runCLI(t, "--store-path", path, "accounts", "--user", "alice", "--raw")
	require.NoError(t, err)
	accounts := decodeArray(t, out)
	require.Len(t, accounts, 1)
	assert.Equal(t, "acc-1", accounts[0]["id"])
	assert.Equal(t, "Checking", accounts[0]["name"])

	out, err = runCLI(t, "--store-path", path, "accounts", "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Checking")
	assert.Equal(t, 1, transport.RequestsMade("accounts/get"))
}

func TestAppOptionsFromContext(t *testing.T) {
	opts := appOptionsFrom(context.Background())
	assert.NotNil(t, opts.transport)
	assert.Equal(t, os.Stderr, opts.logOutput)
	assert.NotNil(t, opts.now)

	fixed := time.Date(2024, 2, 29, 23, 30, 0, 0, time.UTC)
	opts = appOptionsFrom(withAppOptions(context.Background(), appOptions{now: func() time.Time { return fixed }}))
	assert.Equal(t, fixed, opts.now())
	assert.Equal(t, os.Stderr, opts.logOutput, "unset fields keep their defaults")
	assert.NotNil(t, opts.transport)
}

func TestCLIUsesInjectedClock(t *testing.T) {
	transport := seededTransport()
	useTransport(t, transport)
	path := t.TempDir()

	_, err := runCLI(t, "--store-path", path, "add-token", "--user", "alice", "tok-1")
	require.NoError(t, err)

	// d-20 resolves against the pinned 2024-08-21, not the wall clock.
	_, err = runCLI(t, "--store-path", path, "transactions", "-u", "alice", "--start", "d-20", "--raw")
	require.NoError(t, err)

	out, err := runCLI(t, "--store-path", path, "status", "--user", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Window:  2024-08-01 to 2024-08-21")
}

func TestResolveCLIWindow(t *testing.T) {
	today := civil.Date{Year: 2024, Month: time.August, Day: 21}

	tests := []struct {
		name             string
		start, end, per  string
		wantStart, wantE string
		wantErr          bool
	}{
		{"defaults", "", "", "", "2024-07-22", "2024-08-21", false},
		{"exact", "2024-08-01", "2024-08-10", "", "2024-08-01", "2024-08-10", false},
		{"relative start", "d-7", "", "", "2024-08-14", "2024-08-21", false},
		{"yesterday only", "yesterday", "yesterday", "", "2024-08-20", "2024-08-20", false},
		{"period", "", "", "last-month", "2024-07-01", "2024-07-31", false},
		{"period and start", "today", "", "this-week", "", "", true},
		{"unknown date", "someday", "", "", "", "", true},
		{"inverted", "2024-08-10", "2024-08-01", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := resolveCLIWindow(tt.start, tt.end, tt.per, today)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start.String())
			assert.Equal(t, tt.wantE, end.String())
		})
	}
}
