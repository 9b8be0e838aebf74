package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	// Drivers registered for database/sql by side effect.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/nodeflow-go/internal/domain/workflow"
	"github.com/nodeflow-go/internal/engine/errcode"
	"github.com/nodeflow-go/internal/engine/node"
	"github.com/nodeflow-go/pkg/logger"
)

const (
	dbQueryTimeout = 30 * time.Second
	poolIdleTTL    = 5 * time.Minute
	maxRows        = 10000
)

// DatabaseHandler runs SQL queries against connections stored in the vault.
// Opened pools are shared across invocations and evicted after sitting
// idle, so a burst of runs against one datasource reuses connections while
// stale secrets eventually age out.
type DatabaseHandler struct {
	logger logger.Logger

	mu    sync.Mutex
	pools map[string]*pooledDB
}

type pooledDB struct {
	db       *sql.DB
	lastUsed time.Time
}

type databaseConfig struct {
	ConnectionID string        `json:"connectionId"`
	Operation    string        `json:"operation"` // select (default) or execute
	Query        string        `json:"query"`
	Params       []interface{} `json:"params"`
}

// NewDatabaseHandler creates a database handler with an empty pool cache.
func NewDatabaseHandler(log logger.Logger) *DatabaseHandler {
	return &DatabaseHandler{
		logger: log,
		pools:  make(map[string]*pooledDB),
	}
}

func (h *DatabaseHandler) Execute(ctx context.Context, nc *node.Context) (*workflow.NodeResult, error) {
	var cfg databaseConfig
	if err := parseConfig(nc.Config, &cfg); err != nil {
		return invalidConfig(fmt.Sprintf("invalid database config: %v", err)), nil
	}
	if cfg.ConnectionID == "" {
		return missingConfig("database node requires a connectionId"), nil
	}
	if cfg.Query == "" {
		return missingConfig("database node requires a query"), nil
	}

	if nc.GetConnection == nil {
		return workflow.Failure(errcode.Config(errcode.MissingConnection,
			"no connection resolver available")), nil
	}
	conn, err := nc.GetConnection(cfg.ConnectionID)
	if err != nil {
		return workflow.Failure(errcode.Runtime(errcode.ConnectionFailed,
			fmt.Sprintf("failed to resolve connection %s: %v", cfg.ConnectionID, err), true)), nil
	}
	if conn == nil {
		return workflow.Failure(errcode.Config(errcode.MissingConnection,
			fmt.Sprintf("connection %s not found", cfg.ConnectionID))), nil
	}

	db, err := h.open(conn, nc.NodeType)
	if err != nil {
		return workflow.Failure(errcode.Runtime(errcode.ConnectionFailed,
			fmt.Sprintf("failed to open database: %v", err), true)), nil
	}

	queryCtx, cancel := context.WithTimeout(ctx, dbQueryTimeout)
	defer cancel()

	operation := cfg.Operation
	if operation == "" {
		if isSelect(cfg.Query) {
			operation = "select"
		} else {
			operation = "execute"
		}
	}

	switch operation {
	case "select":
		return h.query(queryCtx, db, cfg)
	case "execute":
		return h.exec(queryCtx, db, cfg)
	default:
		return workflow.Failure(errcode.Config(errcode.InvalidOperation,
			fmt.Sprintf("unsupported database operation %q", cfg.Operation))), nil
	}
}

func (h *DatabaseHandler) query(ctx context.Context, db *sql.DB, cfg databaseConfig) (*workflow.NodeResult, error) {
	rows, err := db.QueryContext(ctx, cfg.Query, cfg.Params...)
	if err != nil {
		return workflow.Failure(classifyDBError(err)), nil
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return workflow.Failure(classifyDBError(err)), nil
	}

	results := make([]map[string]interface{}, 0)
	values := make([]interface{}, len(columns))
	scanners := make([]interface{}, len(columns))
	for i := range values {
		scanners[i] = &values[i]
	}

	for rows.Next() {
		if len(results) >= maxRows {
			break
		}
		if err := rows.Scan(scanners...); err != nil {
			return workflow.Failure(classifyDBError(err)), nil
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = normalizeColumn(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return workflow.Failure(classifyDBError(err)), nil
	}

	return workflow.Ok(map[string]interface{}{
		"rows":     results,
		"rowCount": len(results),
	}), nil
}

func (h *DatabaseHandler) exec(ctx context.Context, db *sql.DB, cfg databaseConfig) (*workflow.NodeResult, error) {
	res, err := db.ExecContext(ctx, cfg.Query, cfg.Params...)
	if err != nil {
		return workflow.Failure(classifyDBError(err)), nil
	}

	affected, _ := res.RowsAffected()
	return workflow.Ok(map[string]interface{}{
		"rowsAffected": affected,
	}), nil
}

// open returns a cached pool for the connection string, evicting pools that
// sat idle past the TTL.
func (h *DatabaseHandler) open(conn *node.Connection, nodeType string) (*sql.DB, error) {
	driver := conn.Driver
	if driver == "" {
		switch nodeType {
		case "mysql":
			driver = "mysql"
		default:
			driver = "postgres"
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for key, pooled := range h.pools {
		if key == conn.ConnectionString {
			continue
		}
		if now.Sub(pooled.lastUsed) > poolIdleTTL {
			pooled.db.Close()
			delete(h.pools, key)
		}
	}

	if pooled, ok := h.pools[conn.ConnectionString]; ok {
		pooled.lastUsed = now
		return pooled.db, nil
	}

	db, err := sql.Open(driver, conn.ConnectionString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(poolIdleTTL)

	h.pools[conn.ConnectionString] = &pooledDB{db: db, lastUsed: now}
	return db, nil
}

// Close releases every cached pool.
func (h *DatabaseHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, pooled := range h.pools {
		pooled.db.Close()
		delete(h.pools, key)
	}
}

func isSelect(query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	return strings.HasPrefix(q, "select") || strings.HasPrefix(q, "with") || strings.HasPrefix(q, "show")
}

// classifyDBError splits transient transport failures from query errors.
// Syntax and constraint errors will fail identically on retry.
func classifyDBError(err error) *workflow.NodeError {
	if errors.Is(err, context.DeadlineExceeded) {
		return errcode.Runtime(errcode.Timeout, fmt.Sprintf("query timed out: %v", err), true)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "no such host") {
		return errcode.Runtime(errcode.ConnectionFailed, fmt.Sprintf("database unreachable: %v", err), true)
	}
	return errcode.Runtime(errcode.OperationFailed, fmt.Sprintf("query failed: %v", err), false)
}

func normalizeColumn(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
