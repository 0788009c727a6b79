package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/civil"
	"github.com/colthorp/txcache/internal/cache"
	"github.com/colthorp/txcache/internal/core"
	"github.com/colthorp/txcache/internal/output"
	"github.com/colthorp/txcache/internal/server"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	// Add all subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(transactionsCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(linkTokenCmd)
	rootCmd.AddCommand(exchangeTokenCmd)
	rootCmd.AddCommand(addTokenCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(mcpCmd)

	serveCmd.Flags().String("port", "", fmt.Sprintf("Port to listen on (default: $PORT or %s)", core.DefaultPort))

	for _, cmd := range []*cobra.Command{transactionsCmd, accountsCmd, linkTokenCmd, exchangeTokenCmd, addTokenCmd, statusCmd} {
		cmd.Flags().StringP("user", "u", "", "User id")
		cmd.MarkFlagRequired("user")
	}

	// Transactions command flags
	transactionsCmd.Flags().String("start", "", "Start date: YYYY-MM-DD, today, yesterday, M/D or d-N/w-N/m-N/y-N")
	transactionsCmd.Flags().String("end", "", "End date, same formats as --start (default: today)")
	transactionsCmd.Flags().String("period", "", "Named period instead of --start/--end (e.g. this-month, last-week)")
	transactionsCmd.Flags().String("account", "", "Only transactions of this account id")
	transactionsCmd.Flags().String("category", "", "Only transactions of this primary category")
	transactionsCmd.Flags().Bool("raw", false, "Emit raw JSON instead of a table")

	accountsCmd.Flags().Bool("raw", false, "Emit raw JSON instead of a table")
}

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  handleServe,
}

var transactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List a user's transactions for a date window, fetching only what is not cached",
	RunE:  handleTransactions,
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List a user's accounts",
	RunE:  handleAccounts,
}

var linkTokenCmd = &cobra.Command{
	Use:   "link-token",
	Short: "Create a Plaid Link token for a user",
	RunE:  handleLinkToken,
}

var exchangeTokenCmd = &cobra.Command{
	Use:   "exchange-token [public_token]",
	Short: "Exchange a Link public token and store the access token",
	Args:  cobra.ExactArgs(1),
	RunE:  handleExchangeToken,
}

var addTokenCmd = &cobra.Command{
	Use:   "add-token [access_token]",
	Short: "Store an already exchanged access token for a user",
	Args:  cobra.ExactArgs(1),
	RunE:  handleAddToken,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cached window, record count and token count for a user",
	RunE:  handleStatus,
}

// mcpCmd starts the MCP server
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI integration",
	RunE:  handleMCP,
}

// withApp builds the app, runs fn and closes the store.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, appOptionsFrom(ctx))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func handleServe(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetString("port")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if port == "" {
			port = a.cfg.Port
		}

		srv := server.NewServer(a.manager, a.plaid, server.Options{
			Location:  a.loc,
			StaticDir: a.cfg.StaticDir,
			Logger:    a.logger,
			Now:       a.now,
		})
		httpServer := &http.Server{
			Addr:              ":" + port,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("listening", "addr", httpServer.Addr, "store", a.cfg.Store, "plaid_env", a.cfg.PlaidEnv)
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
}

// resolveCLIWindow turns the --start/--end/--period flags into a window.
func resolveCLIWindow(startSpec, endSpec, period string, today civil.Date) (civil.Date, civil.Date, error) {
	if period != "" {
		if startSpec != "" || endSpec != "" {
			return civil.Date{}, civil.Date{}, errors.New("--period cannot be combined with --start or --end")
		}
		return core.GetTimeRange(period, today)
	}

	var startStr, endStr string
	if startSpec != "" {
		d, err := core.ParseDateSpec(startSpec, today)
		if err != nil {
			return civil.Date{}, civil.Date{}, err
		}
		startStr = d.String()
	}
	if endSpec != "" {
		d, err := core.ParseDateSpec(endSpec, today)
		if err != nil {
			return civil.Date{}, civil.Date{}, err
		}
		endStr = d.String()
	}
	return core.ResolveWindow(startStr, endStr, today)
}

func handleTransactions(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	startSpec, _ := cmd.Flags().GetString("start")
	endSpec, _ := cmd.Flags().GetString("end")
	period, _ := cmd.Flags().GetString("period")
	account, _ := cmd.Flags().GetString("account")
	category, _ := cmd.Flags().GetString("category")
	raw, _ := cmd.Flags().GetBool("raw")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		start, end, err := resolveCLIWindow(startSpec, endSpec, period, a.today())
		if err != nil {
			return err
		}

		core.ProgressPrint(fmt.Sprintf("Resolving transactions from %s to %s…", start, end), a.cfg.Quiet)

		rs, err := a.manager.Resolve(ctx, user, start, end)
		if errors.Is(err, cache.ErrNoCredentials) {
			core.ProgressPrint(fmt.Sprintf("User %s has no linked items", user), a.cfg.Quiet)
			rs = &cache.RecordSet{}
		} else if err != nil {
			return err
		}

		txns := output.FilterTransactions(rs.Transactions, output.Filter{
			AccountID: account,
			Category:  category,
			Start:     start,
			End:       end,
		})

		out := cmd.OutOrStdout()
		if raw {
			return output.WriteJSONArray(out, output.TransactionViews(txns))
		}
		output.PrintTransactionTable(out, txns)
		return nil
	})
}

func handleAccounts(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	raw, _ := cmd.Flags().GetBool("raw")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		accounts, err := a.manager.Accounts(ctx, user)
		if err != nil && !errors.Is(err, cache.ErrNoCredentials) {
			return err
		}

		out := cmd.OutOrStdout()
		if raw {
			return output.WriteJSONArray(out, output.AccountViews(accounts))
		}
		output.PrintAccountTable(out, accounts)
		return nil
	})
}

func handleLinkToken(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		token, err := a.plaid.CreateLinkToken(ctx, user)
		if err != nil {
			return err
		}
		return output.WriteJSON(cmd.OutOrStdout(), token)
	})
}

func handleExchangeToken(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		res, err := a.manager.Link(ctx, user, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Linked item %s for %s (token %s)\n", res.ItemID, user, core.MaskToken(res.AccessToken))
		return nil
	})
}

func handleAddToken(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		if err := a.manager.AddToken(ctx, user, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored token %s for %s\n", core.MaskToken(args[0]), user)
		return nil
	})
}

func handleStatus(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")

	return withApp(cmd, func(ctx context.Context, a *app) error {
		st, err := a.manager.Status(ctx, user)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "User:    %s\n", user)
		fmt.Fprintf(out, "Tokens:  %d\n", st.Tokens)
		if st.Window == nil {
			fmt.Fprintln(out, "Window:  (nothing cached)")
			return nil
		}
		fmt.Fprintf(out, "Window:  %s to %s\n", st.Window.Start, st.Window.End)
		fmt.Fprintf(out, "Records: %d\n", st.Records)
		if !st.FetchedAt.IsZero() {
			fmt.Fprintf(out, "Fetched: %s\n", st.FetchedAt.In(a.loc).Format(time.RFC3339))
		}
		return nil
	})
}

func handleMCP(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app) error {
		s := newMCPServer(a.manager, a.loc, a.logger)
		s.now = a.now
		return s.serve(ctx, os.Stdin, cmd.OutOrStdout())
	})
}
