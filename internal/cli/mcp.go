package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/colthorp/txcache/internal/cache"
	"github.com/colthorp/txcache/internal/core"
	"github.com/colthorp/txcache/internal/output"
	"github.com/pkg/errors"
)

// MCP Protocol types
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type MCPToolInfo struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

type MCPServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type MCPInitializeResult struct {
	ProtocolVersion string        `json:"protocolVersion"`
	ServerInfo      MCPServerInfo `json:"serverInfo"`
	Capabilities    interface{}   `json:"capabilities"`
}

// GetTransactionsParams are the parameters for the get_transactions tool
type GetTransactionsParams struct {
	UserID    string `json:"user_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	AccountID string `json:"account_id"`
	Category  string `json:"category"`
	Raw       bool   `json:"raw"`
}

// GetAccountsParams are the parameters for the get_accounts tool
type GetAccountsParams struct {
	UserID string `json:"user_id"`
	Raw    bool   `json:"raw"`
}

// CacheStatusParams are the parameters for the cache_status tool
type CacheStatusParams struct {
	UserID string `json:"user_id"`
}

const (
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

// mcpServer answers MCP requests over a line-delimited JSON-RPC stream.
type mcpServer struct {
	manager *cache.Manager
	loc     *time.Location
	logger  *slog.Logger
	now     func() time.Time

	mu  sync.Mutex
	out io.Writer
}

func newMCPServer(manager *cache.Manager, loc *time.Location, logger *slog.Logger) *mcpServer {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = core.NopLogger()
	}
	return &mcpServer{
		manager: manager,
		loc:     loc,
		logger:  logger.With("component", "mcp"),
		now:     time.Now,
	}
}

// serve reads requests from in until EOF or ctx is done.
func (s *mcpServer) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.out = out

	scanner := bufio.NewScanner(in)
	// Increase buffer size for large messages
	const maxCapacity = 10 * 1024 * 1024 // 10MB
	buf := make([]byte, maxCapacity)
	scanner.Buffer(buf, maxCapacity)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			// Without an id there is nothing a client could match a reply to.
			s.logger.Warn("parse error", "error", err)
			continue
		}

		s.handle(ctx, &req)
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scanner error")
	}
	return nil
}

func (s *mcpServer) handle(ctx context.Context, req *MCPRequest) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "initialized", "notifications/initialized":
		return
	case "tools/list":
		s.handleToolsList(req)
	case "tools/call":
		s.handleToolsCall(ctx, req)
	default:
		// Notifications (no ID) never get a response
		if req.ID != nil {
			s.sendError(req.ID, rpcMethodNotFound, "Method not found", req.Method)
		}
	}
}

func (s *mcpServer) handleInitialize(req *MCPRequest) {
	s.sendResponse(req.ID, MCPInitializeResult{
		ProtocolVersion: "2024-11-05",
		ServerInfo: MCPServerInfo{
			Name:    "txcache",
			Version: core.Version,
		},
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	})
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func boolProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "boolean", "description": description, "default": false}
}

func (s *mcpServer) handleToolsList(req *MCPRequest) {
	tools := []MCPToolInfo{
		{
			Name: "get_transactions",
			Description: "List a user's Plaid transactions between two dates (inclusive).\n\n" +
				"Only the part of the window that is not cached yet is fetched from Plaid.\n" +
				"Dates accept YYYY-MM-DD, today, yesterday or relative shorthand like d-7.\n" +
				"Without dates the last 30 days are returned.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"user_id":    stringProp("User whose linked items are queried"),
					"start_date": stringProp("First day of the window"),
					"end_date":   stringProp("Last day of the window (default: today)"),
					"account_id": stringProp("Only transactions of this account"),
					"category":   stringProp("Only transactions of this primary category"),
					"raw":        boolProp("Return the full Plaid objects instead of the trimmed view"),
				},
				"required": []string{"user_id"},
			},
		},
		{
			Name:        "get_accounts",
			Description: "List the accounts of every item the user has linked.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"user_id": stringProp("User whose linked items are queried"),
					"raw":     boolProp("Return the full Plaid objects instead of the trimmed view"),
				},
				"required": []string{"user_id"},
			},
		},
		{
			Name:        "cache_status",
			Description: "Report the cached date window, record count and linked item count for a user.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"user_id": stringProp("User to inspect"),
				},
				"required": []string{"user_id"},
			},
		},
	}

	s.sendResponse(req.ID, map[string]interface{}{"tools": tools})
}

func (s *mcpServer) handleToolsCall(ctx context.Context, req *MCPRequest) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.sendError(req.ID, rpcInvalidParams, "Invalid params", err.Error())
		return
	}
	if len(params.Arguments) == 0 {
		params.Arguments = json.RawMessage("{}")
	}

	switch params.Name {
	case "get_transactions":
		s.handleGetTransactions(ctx, req.ID, params.Arguments)
	case "get_accounts":
		s.handleGetAccounts(ctx, req.ID, params.Arguments)
	case "cache_status":
		s.handleCacheStatus(ctx, req.ID, params.Arguments)
	default:
		s.sendError(req.ID, rpcInvalidParams, "Unknown tool", params.Name)
	}
}

func (s *mcpServer) today() civil.Date {
	return civil.DateOf(s.now().In(s.loc))
}

func (s *mcpServer) handleGetTransactions(ctx context.Context, id interface{}, argsJSON json.RawMessage) {
	var args GetTransactionsParams
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		s.sendToolError(id, fmt.Sprintf("Invalid arguments: %v", err))
		return
	}
	if args.UserID == "" {
		s.sendToolError(id, "user_id is required")
		return
	}

	start, end, err := resolveCLIWindow(args.StartDate, args.EndDate, "", s.today())
	if err != nil {
		s.sendToolResult(id, map[string]interface{}{
			"error":      err.Error(),
			"start_date": args.StartDate,
			"end_date":   args.EndDate,
		})
		return
	}

	rs, err := s.manager.Resolve(ctx, args.UserID, start, end)
	if errors.Is(err, cache.ErrNoCredentials) {
		rs = &cache.RecordSet{}
	} else if err != nil {
		s.logger.Error("get_transactions failed", "user", args.UserID, "kind", cache.ErrorKind(err), "error", err)
		s.sendToolError(id, fmt.Sprintf("Failed to fetch transactions (%s)", cache.ErrorKind(err)))
		return
	}

	txns := output.FilterTransactions(rs.Transactions, output.Filter{
		AccountID: args.AccountID,
		Category:  args.Category,
		Start:     start,
		End:       end,
	})

	var items interface{} = output.TransactionViews(txns)
	if args.Raw {
		items = txns
	}

	s.sendToolResult(id, map[string]interface{}{
		"user_id":      args.UserID,
		"start_date":   start.String(),
		"end_date":     end.String(),
		"count":        len(txns),
		"transactions": items,
	})
}

func (s *mcpServer) handleGetAccounts(ctx context.Context, id interface{}, argsJSON json.RawMessage) {
	var args GetAccountsParams
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		s.sendToolError(id, fmt.Sprintf("Invalid arguments: %v", err))
		return
	}
	if args.UserID == "" {
		s.sendToolError(id, "user_id is required")
		return
	}

	accounts, err := s.manager.Accounts(ctx, args.UserID)
	if err != nil && !errors.Is(err, cache.ErrNoCredentials) {
		s.logger.Error("get_accounts failed", "user", args.UserID, "kind", cache.ErrorKind(err), "error", err)
		s.sendToolError(id, fmt.Sprintf("Failed to fetch accounts (%s)", cache.ErrorKind(err)))
		return
	}

	var items interface{} = output.AccountViews(accounts)
	if args.Raw {
		items = accounts
	}

	s.sendToolResult(id, map[string]interface{}{
		"user_id":  args.UserID,
		"count":    len(accounts),
		"accounts": items,
	})
}

func (s *mcpServer) handleCacheStatus(ctx context.Context, id interface{}, argsJSON json.RawMessage) {
	var args CacheStatusParams
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		s.sendToolError(id, fmt.Sprintf("Invalid arguments: %v", err))
		return
	}
	if args.UserID == "" {
		s.sendToolError(id, "user_id is required")
		return
	}

	st, err := s.manager.Status(ctx, args.UserID)
	if err != nil {
		s.sendToolError(id, fmt.Sprintf("Failed to read status (%s)", cache.ErrorKind(err)))
		return
	}

	result := map[string]interface{}{
		"user_id": args.UserID,
		"tokens":  st.Tokens,
		"records": st.Records,
	}
	if st.Window != nil {
		result["start_date"] = st.Window.Start.String()
		result["end_date"] = st.Window.End.String()
		result["fetched_at"] = st.FetchedAt.UTC().Format(time.RFC3339)
	}
	s.sendToolResult(id, result)
}

func (s *mcpServer) write(resp MCPResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, string(data))
}

func (s *mcpServer) sendResponse(id interface{}, result interface{}) {
	s.write(MCPResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *mcpServer) sendError(id interface{}, code int, message, data string) {
	s.write(MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

func (s *mcpServer) sendToolResult(id interface{}, result interface{}) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": mustMarshal(result),
			},
		},
	})
}

func (s *mcpServer) sendToolError(id interface{}, message string) {
	s.sendResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": message,
			},
		},
		"isError": true,
	})
}

func mustMarshal(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(data)
}
