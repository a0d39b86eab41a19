// Package journal 把每个 intent 的处理结果写入 SQLite，便于事后对账。
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome 一条处理结果
type Outcome struct {
	IntentID  string
	Principal string
	Kind      string // action / trade / unknown
	Outcome   string // proceed / skip_blocked / skip_dry_run / filter_set / ...
	Detail    string
	CreatedAt time.Time
}

// Recorder 结果记录器
type Recorder interface {
	Record(ctx context.Context, o Outcome) error
}

// Nop 未配置路径时使用
type Nop struct{}

func (Nop) Record(context.Context, Outcome) error { return nil }

// Journal SQLite 实现
type Journal struct {
	db *sql.DB
}

// Open 打开（必要时创建）数据库并建表
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS intent_outcomes (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  intent_id TEXT NOT NULL,
  principal TEXT NOT NULL,
  kind TEXT NOT NULL,
  outcome TEXT NOT NULL,
  detail TEXT,
  created_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_intent_outcomes_intent ON intent_outcomes(intent_id);`,
		`CREATE INDEX IF NOT EXISTS idx_intent_outcomes_principal_ts ON intent_outcomes(principal, created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Record 写入一条结果
func (j *Journal) Record(ctx context.Context, o Outcome) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO intent_outcomes(intent_id, principal, kind, outcome, detail, created_at) VALUES(?,?,?,?,?,?)`,
		o.IntentID, o.Principal, o.Kind, o.Outcome, o.Detail, o.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Recent 按时间倒序返回 principal 最近的结果；principal 为空时返回全部
func (j *Journal) Recent(ctx context.Context, principal string, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT intent_id, principal, kind, outcome, COALESCE(detail,''), created_at FROM intent_outcomes`
	args := []any{}
	if principal != "" {
		q += ` WHERE principal = ?`
		args = append(args, principal)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var (
			o  Outcome
			ts string
		)
		if err := rows.Scan(&o.IntentID, &o.Principal, &o.Kind, &o.Outcome, &o.Detail, &ts); err != nil {
			return nil, err
		}
		o.CreatedAt, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	return j.db.Close()
}
