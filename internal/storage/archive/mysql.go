package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"GraphChat/internal/event"
)

// MySQLRepository 把事件写入 MySQL，建表通过嵌入的 SQL 迁移完成。
type MySQLRepository struct {
	db *sql.DB
}

// NewMySQLRepository 创建连接池并应用数据库迁移。
func NewMySQLRepository(ctx context.Context, dsn string) (*MySQLRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}

	repo := &MySQLRepository{db: db}
	if err := repo.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Save 将事件写入 MySQL。
func (r *MySQLRepository) Save(ctx context.Context, evt event.Event) error {
	args := ""
	if len(evt.Args) > 0 {
		encoded, err := json.Marshal(evt.Args)
		if err != nil {
			return fmt.Errorf("序列化事件参数失败: %w", err)
		}
		args = string(encoded)
	}

	const stmt = `INSERT INTO events (id, thread_id, type, tool, args, detail, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, stmt,
		evt.ID,
		evt.ThreadID,
		string(evt.Type),
		evt.Tool,
		args,
		evt.Detail,
		evt.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入事件失败: %w", err)
	}
	return nil
}

// ListRecent 查询最近的事件记录。
func (r *MySQLRepository) ListRecent(ctx context.Context, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id, thread_id, type, tool, args, detail, created_at
        FROM events ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询事件记录失败: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var evt event.Event
		var typ, args string
		if err := rows.Scan(&evt.ID, &evt.ThreadID, &typ, &evt.Tool, &args, &evt.Detail, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析事件记录失败: %w", err)
		}
		evt.Type = event.Type(typ)
		if args != "" {
			if err := json.Unmarshal([]byte(args), &evt.Args); err != nil {
				return nil, fmt.Errorf("解析事件参数失败: %w", err)
			}
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历事件记录失败: %w", err)
	}
	return events, nil
}

// Close 关闭底层数据库连接。
func (r *MySQLRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

var _ Repository = (*MySQLRepository)(nil)
