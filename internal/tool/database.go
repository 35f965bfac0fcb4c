package tool

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"

	xerrors "GraphChat/internal/errors"
	"GraphChat/internal/llm"
)

const notConfiguredMessage = "Database connection not configured. Please set DB_NAME, DB_USER, DB_PASSWORD environment variables."

// DatabaseConfig 描述只读查询库的连接参数。
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
}

// Configured 判断必填项是否齐全，主机和端口有默认值。
func (c DatabaseConfig) Configured() bool {
	return c.Name != "" && c.User != "" && c.Password != ""
}

// DSN 构造 PostgreSQL 连接串。
func (c DatabaseConfig) DSN() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == "" {
		port = "5432"
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   "/" + c.Name,
	}
	query := url.Values{}
	query.Set("sslmode", sslmode)
	u.RawQuery = query.Encode()
	return u.String()
}

// DatabaseManager 持有查询库连接池。连接是惰性的，网络故障在每次
// 工具调用时以文本形式反馈给模型，而不是让服务启动失败。
type DatabaseManager struct {
	db *sql.DB
}

// NewDatabaseManager 创建连接池，配置不全时返回错误。
func NewDatabaseManager(cfg DatabaseConfig) (*DatabaseManager, error) {
	if !cfg.Configured() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			"数据库连接需要 DB_NAME、DB_USER、DB_PASSWORD 环境变量")
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建数据库连接池失败")
	}
	db.SetMaxOpenConns(15)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return &DatabaseManager{db: db}, nil
}

// Close 关闭连接池。
func (m *DatabaseManager) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *DatabaseManager) available() bool {
	return m != nil && m.db != nil
}

// listTables 返回 public schema 下的基础表，按表名排序。
func (m *DatabaseManager) listTables(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
		ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// tableInfo 渲染单个表的建表语句和前三行示例数据。
func (m *DatabaseManager) tableInfo(ctx context.Context, table string) (string, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var columnLines []string
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return "", err
		}
		line := fmt.Sprintf("\t%s %s", name, strings.ToUpper(dataType))
		if nullable == "NO" {
			line += " NOT NULL"
		}
		columnLines = append(columnLines, line)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n%s\n)\n\n", table, strings.Join(columnLines, ",\n"))

	sample, err := m.sampleRows(ctx, table)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "/*\n3 rows from %s table:\n%s*/", table, sample)
	return b.String(), nil
}

func (m *DatabaseManager) sampleRows(ctx context.Context, table string) (string, error) {
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s LIMIT 3", pq.QuoteIdentifier(table)))
	if err != nil {
		return "", err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(strings.Join(columns, "\t"))
	b.WriteString("\n")

	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return "", err
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = plainValue(v)
		}
		b.WriteString(strings.Join(cells, "\t"))
		b.WriteString("\n")
	}
	return b.String(), rows.Err()
}

var (
	lineCommentRE  = regexp.MustCompile(`(?m)--.*$`)
	blockCommentRE = regexp.MustCompile(`(?s)/\*.*?\*/`)
	dangerousSQLRE = regexp.MustCompile(`\b(DROP|DELETE|UPDATE|INSERT|CREATE|ALTER|TRUNCATE|GRANT|REVOKE|EXEC|EXECUTE)\b`)
)

// isSafeQuery 只放行去掉注释后以 SELECT 开头且不含写操作关键字的语句。
func isSafeQuery(query string) bool {
	clean := lineCommentRE.ReplaceAllString(query, "")
	clean = blockCommentRE.ReplaceAllString(clean, "")
	clean = strings.ToUpper(strings.TrimSpace(clean))

	if dangerousSQLRE.MatchString(clean) {
		return false
	}
	return strings.HasPrefix(clean, "SELECT")
}

// plainValue 以普通文本渲染采样值。
func plainValue(v any) string {
	switch value := v.(type) {
	case nil:
		return "None"
	case bool:
		if value {
			return "True"
		}
		return "False"
	case []byte:
		return string(value)
	case time.Time:
		return value.Format(time.RFC3339)
	default:
		return fmt.Sprint(value)
	}
}

// literalValue 以带引号的字面量渲染查询结果值。
func literalValue(v any) string {
	switch value := v.(type) {
	case nil:
		return "None"
	case bool:
		if value {
			return "True"
		}
		return "False"
	case int64, float64:
		return fmt.Sprint(value)
	case []byte:
		return quoteLiteral(string(value))
	case string:
		return quoteLiteral(value)
	case time.Time:
		return quoteLiteral(value.Format(time.RFC3339))
	default:
		return fmt.Sprint(value)
	}
}

func quoteLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", `\'`)
	return "'" + s + "'"
}

// DatabaseTools 返回共享同一个连接池的四个数据库工具。
// manager 为空时工具仍可注册，调用时提示未配置。
func DatabaseTools(m *DatabaseManager) []Tool {
	return []Tool{
		&listTablesTool{manager: m},
		&schemaTool{manager: m},
		&queryTool{manager: m},
		&checkQueryTool{manager: m},
	}
}

type listTablesTool struct {
	manager *DatabaseManager
}

func (t *listTablesTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "list_database_tables",
		DisplayName: "List Database Tables",
		Description: "List all available tables in the PostgreSQL database. Use this tool to discover what tables are available before querying.",
		Parameters:  &llm.Schema{Type: "object", Properties: map[string]*llm.Schema{}},
	}
}

func (t *listTablesTool) Call(ctx context.Context, _ map[string]any) (string, error) {
	if !t.manager.available() {
		return notConfiguredMessage, nil
	}

	tables, err := t.manager.listTables(ctx)
	if err != nil {
		return fmt.Sprintf("Error listing tables: %v", err), nil
	}
	if len(tables) == 0 {
		return "No tables found in the database.", nil
	}
	return fmt.Sprintf("Available tables: %s", strings.Join(tables, ", ")), nil
}

type schemaTool struct {
	manager *DatabaseManager
}

func (t *schemaTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "get_database_schema",
		DisplayName: "Get Database Schema",
		Description: "Get schema information and sample rows for specified database tables. Provide a comma-separated list of table names, e.g. \"users, orders, products\".",
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"table_names": {
					Type:        "string",
					Description: "Comma-separated list of table names to get schema for",
				},
			},
			Required: []string{"table_names"},
		},
	}
}

func (t *schemaTool) Call(ctx context.Context, args map[string]any) (string, error) {
	if !t.manager.available() {
		return notConfiguredMessage, nil
	}

	var requested []string
	for _, name := range strings.Split(stringArg(args, "table_names"), ",") {
		requested = append(requested, strings.TrimSpace(name))
	}

	available, err := t.manager.listTables(ctx)
	if err != nil {
		return fmt.Sprintf("Error getting schema: %v", err), nil
	}
	known := make(map[string]bool, len(available))
	for _, name := range available {
		known[name] = true
	}

	var invalid []string
	for _, name := range requested {
		if !known[name] {
			invalid = append(invalid, name)
		}
	}
	if len(invalid) > 0 {
		return fmt.Sprintf("Invalid table names: %s. Available tables: %s",
			strings.Join(invalid, ", "), strings.Join(available, ", ")), nil
	}

	var sections []string
	for _, name := range requested {
		info, err := t.manager.tableInfo(ctx, name)
		if err != nil {
			return fmt.Sprintf("Error getting schema: %v", err), nil
		}
		sections = append(sections, info)
	}
	return strings.Join(sections, "\n\n"), nil
}

type queryTool struct {
	manager *DatabaseManager
}

func (t *queryTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "query_database",
		DisplayName: "Query Database",
		Description: "Execute a SELECT query against the PostgreSQL database. Only read-only SELECT queries are allowed for security. No INSERT/UPDATE/DELETE operations.",
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"query": {
					Type:        "string",
					Description: "SQL SELECT query to execute",
				},
			},
			Required: []string{"query"},
		},
	}
}

func (t *queryTool) Call(ctx context.Context, args map[string]any) (string, error) {
	if !t.manager.available() {
		return notConfiguredMessage, nil
	}

	query := stringArg(args, "query")
	if !isSafeQuery(query) {
		return "Error: Only SELECT queries are allowed. No INSERT, UPDATE, DELETE, or other modifying operations permitted.", nil
	}

	conn, err := t.manager.db.Conn(ctx)
	if err != nil {
		return fmt.Sprintf("Query execution failed: %v", err), nil
	}
	defer conn.Close()

	// 30 秒语句超时，防止模型生成的慢查询占住连接。
	if _, err := conn.ExecContext(ctx, "SET statement_timeout = 30000"); err != nil {
		return fmt.Sprintf("Query execution failed: %v", err), nil
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return fmt.Sprintf("Query execution failed: %v", err), nil
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Sprintf("Query execution failed: %v", err), nil
	}

	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}

	total := 0
	var kept [][]string
	for rows.Next() {
		total++
		if len(kept) >= 100 {
			continue
		}
		if err := rows.Scan(pointers...); err != nil {
			return fmt.Sprintf("Query execution failed: %v", err), nil
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = literalValue(v)
		}
		kept = append(kept, cells)
	}
	if err := rows.Err(); err != nil {
		return fmt.Sprintf("Query execution failed: %v", err), nil
	}
	if total == 0 {
		return "Query executed successfully but returned no results.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Query returned %d rows", total)
	if total > 100 {
		b.WriteString(" (showing first 100)")
	}
	fmt.Fprintf(&b, ":\n\nColumns: %s\n\n", strings.Join(columns, ", "))

	detail := kept
	if len(detail) > 10 {
		detail = detail[:10]
	}
	for i, cells := range detail {
		pairs := make([]string, len(columns))
		for j, col := range columns {
			pairs[j] = fmt.Sprintf("'%s': %s", col, cells[j])
		}
		fmt.Fprintf(&b, "Row %d: {%s}\n", i+1, strings.Join(pairs, ", "))
	}
	if len(kept) > 10 {
		fmt.Fprintf(&b, "... and %d more rows", len(kept)-10)
	}
	return b.String(), nil
}

type checkQueryTool struct {
	manager *DatabaseManager
}

func (t *checkQueryTool) Descriptor() Descriptor {
	return Descriptor{
		Name:        "check_database_query",
		DisplayName: "Check Database Query",
		Description: "Validate a SQL query before execution to check for syntax errors and safety. Use this tool before executing queries to avoid errors.",
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"query": {
					Type:        "string",
					Description: "SQL query to validate",
				},
			},
			Required: []string{"query"},
		},
	}
}

func (t *checkQueryTool) Call(ctx context.Context, args map[string]any) (string, error) {
	if !t.manager.available() {
		return notConfiguredMessage, nil
	}

	query := stringArg(args, "query")
	if !isSafeQuery(query) {
		return "Query validation failed: Only SELECT queries are allowed. No INSERT, UPDATE, DELETE, or other modifying operations permitted.", nil
	}

	// EXPLAIN 只做语法和对象检查，不真正执行。
	rows, err := t.manager.db.QueryContext(ctx, "EXPLAIN "+query)
	if err != nil {
		return fmt.Sprintf("Query validation failed: %v. Please check your SQL syntax and table/column names.", err), nil
	}
	rows.Close()

	return "Query validation successful. The query appears to be syntactically correct and safe to execute.", nil
}

var (
	_ Tool = (*listTablesTool)(nil)
	_ Tool = (*schemaTool)(nil)
	_ Tool = (*queryTool)(nil)
	_ Tool = (*checkQueryTool)(nil)
)
