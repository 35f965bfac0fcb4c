package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"GraphChat/internal/approval"
	"GraphChat/internal/chat"
	xerrors "GraphChat/internal/errors"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 持久化线程检查点，消息状态以 JSON 列存储。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 连接 MySQL 并确保表结构就绪。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS thread_checkpoints (
        thread_id VARCHAR(64) PRIMARY KEY,
        status VARCHAR(32) NOT NULL,
        state JSON NOT NULL,
        node VARCHAR(128) DEFAULT '',
        interrupt TEXT,
        resumed TEXT,
        turns INT NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_thread_status (status),
        INDEX idx_thread_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 thread_checkpoints 表失败")
	}
	return nil
}

// Put 写入或覆盖线程检查点。
func (s *MySQLStore) Put(ctx context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码线程状态失败")
	}
	interruptJSON, err := marshalInterrupt(cp.Interrupt)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码中断载荷失败")
	}
	resumedJSON, err := marshalResumed(cp.Resumed)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码审批记录失败")
	}

	cp.Touch(time.Now())

	const stmt = `INSERT INTO thread_checkpoints
        (thread_id, status, state, node, interrupt, resumed, turns, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        status = VALUES(status), state = VALUES(state), node = VALUES(node),
        interrupt = VALUES(interrupt), resumed = VALUES(resumed),
        turns = VALUES(turns), updated_at = VALUES(updated_at)`

	_, err = s.db.ExecContext(ctx, stmt,
		cp.ThreadID,
		cp.Status,
		string(stateJSON),
		cp.Node,
		interruptJSON,
		resumedJSON,
		cp.Turns,
		cp.CreatedAt,
		cp.UpdatedAt,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入线程检查点失败")
	}
	return nil
}

// Get 查询指定线程的检查点。
func (s *MySQLStore) Get(ctx context.Context, threadID string) (*Checkpoint, error) {
	const stmt = `SELECT thread_id, status, state, node, interrupt, resumed, turns, created_at, updated_at
        FROM thread_checkpoints WHERE thread_id = ?`

	row := s.db.QueryRowContext(ctx, stmt, threadID)
	cp, err := scanCheckpoint(row.Scan)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	return cp, nil
}

// Delete 删除指定线程的检查点。
func (s *MySQLStore) Delete(ctx context.Context, threadID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM thread_checkpoints WHERE thread_id = ?`, threadID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除线程检查点失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrThreadNotFound
	}
	return nil
}

// List 按过滤条件返回线程检查点。
func (s *MySQLStore) List(ctx context.Context, opts ...ListOption) ([]*Checkpoint, error) {
	options := buildListOptions(opts)

	query := `SELECT thread_id, status, state, node, interrupt, resumed, turns, created_at, updated_at
        FROM thread_checkpoints`

	clause, filterArgs := buildFilterClause(options)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, thread_id DESC"
	if options.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, thread_id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, options.Limit, options.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询线程列表失败")
	}
	defer rows.Close()

	checkpoints := make([]*Checkpoint, 0, options.Limit)
	for rows.Next() {
		cp, err := scanCheckpoint(rows.Scan)
		if err != nil {
			return nil, err
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历线程列表失败")
	}
	return checkpoints, nil
}

// Stats 返回线程状态统计。
func (s *MySQLStore) Stats(ctx context.Context) (*ThreadStats, error) {
	const query = `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS active,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS interrupted,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM thread_checkpoints`

	row := s.db.QueryRowContext(ctx, query, string(StatusActive), string(StatusInterrupted))

	var stats ThreadStats
	var active, interrupted sql.NullInt64
	if err := row.Scan(&stats.Total, &active, &interrupted, &stats.OldestUpdatedAt, &stats.NewestUpdatedAt); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询线程统计失败")
	}
	stats.Active = int(active.Int64)
	stats.Interrupted = int(interrupted.Int64)
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return &stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanCheckpoint(scan func(dest ...any) error) (*Checkpoint, error) {
	var cp Checkpoint
	var stateJSON string
	var interruptJSON sql.NullString
	var resumedJSON sql.NullString

	if err := scan(
		&cp.ThreadID,
		&cp.Status,
		&stateJSON,
		&cp.Node,
		&interruptJSON,
		&resumedJSON,
		&cp.Turns,
		&cp.CreatedAt,
		&cp.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析线程检查点失败")
	}

	var state chat.State
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析线程状态失败")
	}
	cp.State = state

	if interruptJSON.Valid && strings.TrimSpace(interruptJSON.String) != "" {
		var req approval.Request
		if err := json.Unmarshal([]byte(interruptJSON.String), &req); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析中断载荷失败")
		}
		cp.Interrupt = &req
	}
	if resumedJSON.Valid && strings.TrimSpace(resumedJSON.String) != "" {
		var resumed []approval.Decision
		if err := json.Unmarshal([]byte(resumedJSON.String), &resumed); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析审批记录失败")
		}
		cp.Resumed = resumed
	}
	return &cp, nil
}

func marshalInterrupt(req *approval.Request) (sql.NullString, error) {
	if req == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func marshalResumed(resumed []approval.Decision) (sql.NullString, error) {
	if len(resumed) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(resumed)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func buildFilterClause(options ListOptions) (string, []any) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 4)

	if len(options.Statuses) > 0 {
		placeholders := make([]string, 0, len(options.Statuses))
		for range options.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range options.Statuses {
			args = append(args, status)
		}
	}
	if options.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, options.UpdatedGTE)
	}
	if options.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, options.UpdatedLTE)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
