package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	DatabaseToolName = "query_database"

	defaultDatabase     = "default"
	defaultMaxRows      = 100
	databaseCallTimeout = 30 * time.Second
)

// DatabaseSpec configures one named database.
type DatabaseSpec struct {
	Driver   string // postgres | sqlite
	DSN      string
	Writable bool
	MaxRows  int
}

type databaseArgs struct {
	Query    string        `json:"query" jsonschema:"required,description=SQL query to execute"`
	Database string        `json:"database,omitempty" jsonschema:"description=Named database to query,default=default"`
	Params   []interface{} `json:"params,omitempty" jsonschema:"description=Positional query parameters"`
}

var (
	sqlComment   = regexp.MustCompile(`(?s)/\*.*?\*/|--[^\n]*`)
	readOnlyVerb = map[string]bool{"select": true, "with": true, "explain": true, "show": true, "values": true}
)

// DatabaseTool runs SQL against configured databases. Connections open lazily.
type DatabaseTool struct {
	specs  map[string]DatabaseSpec
	params map[string]interface{}

	mu  sync.Mutex
	dbs map[string]*sqlx.DB
}

func NewDatabaseTool(specs map[string]DatabaseSpec) *DatabaseTool {
	return &DatabaseTool{
		specs:  specs,
		params: SchemaFor[databaseArgs](),
		dbs:    make(map[string]*sqlx.DB),
	}
}

func (t *DatabaseTool) Name() string { return DatabaseToolName }

func (t *DatabaseTool) Description() string {
	return "Query a configured SQL database and return rows as JSON. Databases: " + strings.Join(t.names(), ", ")
}

func (t *DatabaseTool) Parameters() map[string]interface{} { return t.params }

// Mutating reports whether the query is anything but a single read statement.
func (t *DatabaseTool) Mutating(args map[string]interface{}) bool {
	q, _ := args["query"].(string)
	return !isReadOnlySQL(q)
}

func (t *DatabaseTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	var a databaseArgs
	if err := decodeArgs(args, &a); err != nil {
		return ErrorResult(err.Error())
	}
	if strings.TrimSpace(a.Query) == "" {
		return ErrorResult("query is required")
	}
	name := a.Database
	if name == "" {
		name = defaultDatabase
	}
	spec, ok := t.specs[name]
	if !ok {
		return ErrorResultf("unknown database %q (available: %s)", name, strings.Join(t.names(), ", "))
	}
	readOnly := isReadOnlySQL(a.Query)
	if !readOnly && !spec.Writable {
		return ErrorResultf("database %q is read-only: only single SELECT/WITH/EXPLAIN/SHOW statements are allowed", name)
	}

	db, err := t.open(name, spec)
	if err != nil {
		return ErrorResultf("connect %s: %v", name, err).WithError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, databaseCallTimeout)
	defer cancel()

	slog.Info("query_database", "database", name, "read_only", readOnly)

	if !readOnly {
		res, err := db.ExecContext(ctx, a.Query, a.Params...)
		if err != nil {
			return ErrorResultf("query failed: %v", err).WithError(err)
		}
		affected, _ := res.RowsAffected()
		return NewResult(fmt.Sprintf(`{"rows_affected": %d}`, affected))
	}

	rows, err := db.QueryxContext(ctx, a.Query, a.Params...)
	if err != nil {
		return ErrorResultf("query failed: %v", err).WithError(err)
	}
	defer rows.Close()

	maxRows := spec.MaxRows
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	out := make([]map[string]interface{}, 0)
	truncated := false
	for rows.Next() {
		if len(out) >= maxRows {
			truncated = true
			break
		}
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return ErrorResultf("scan row: %v", err)
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return ErrorResultf("read rows: %v", err)
	}

	data, err := json.Marshal(map[string]interface{}{
		"rows":      out,
		"row_count": len(out),
		"truncated": truncated,
	})
	if err != nil {
		return ErrorResultf("encode rows: %v", err)
	}
	return NewResult(string(data))
}

func (t *DatabaseTool) open(name string, spec DatabaseSpec) (*sqlx.DB, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if db, ok := t.dbs[name]; ok {
		return db, nil
	}
	driver, err := driverName(spec.Driver)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driver, spec.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	t.dbs[name] = db
	return db, nil
}

// Close closes every opened connection pool.
func (t *DatabaseTool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for name, db := range t.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(t.dbs, name)
	}
	return firstErr
}

func (t *DatabaseTool) names() []string {
	names := make([]string, 0, len(t.specs))
	for n := range t.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func driverName(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return "pgx", nil
	case "sqlite", "sqlite3":
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// isReadOnlySQL accepts a single statement whose first keyword is a read verb.
func isReadOnlySQL(query string) bool {
	q := strings.TrimSpace(sqlComment.ReplaceAllString(query, " "))
	q = strings.TrimSuffix(q, ";")
	if q == "" || strings.Contains(q, ";") {
		return false
	}
	verb := strings.ToLower(strings.Fields(q)[0])
	return readOnlyVerb[verb]
}
