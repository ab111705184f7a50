package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gagliardetto/solana-go"
	_ "modernc.org/sqlite"
)

// Tracked 被跟踪的保证金账户
type Tracked struct {
	Margin    solana.PublicKey
	Authority solana.PublicKey
	Control   solana.PublicKey
}

// Store 账户全集（sqlite）。刷新时整体替换，检查时按分片读取。
type Store struct {
	db *sql.DB
}

// OpenStore 打开（或创建）账户库；path 为 ":memory:" 时使用内存库
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS margins (
  margin TEXT PRIMARY KEY,
  authority TEXT NOT NULL,
  control TEXT NOT NULL,
  refreshed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_margins_authority ON margins(authority);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Replace 用新的账户全集替换旧数据（单事务）
func (s *Store) Replace(ctx context.Context, rows []Tracked) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM margins`); err != nil {
		return fmt.Errorf("clear margins: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO margins(margin, authority, control, refreshed_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Margin.String(), r.Authority.String(), r.Control.String(), now); err != nil {
			return fmt.Errorf("insert margin %s: %w", r.Margin, err)
		}
	}
	return tx.Commit()
}

// Shard 按 margin 地址排序后，取行号 % workerCount == workerIndex 的账户
func (s *Store) Shard(ctx context.Context, workerCount, workerIndex int) ([]Tracked, error) {
	if workerCount <= 0 {
		workerCount = 1
	}
	if workerIndex < 0 || workerIndex >= workerCount {
		return nil, fmt.Errorf("worker index %d out of range [0,%d)", workerIndex, workerCount)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT margin, authority, control FROM (
  SELECT margin, authority, control, ROW_NUMBER() OVER (ORDER BY margin) - 1 AS rn FROM margins
) WHERE rn % ? = ? ORDER BY rn`, workerCount, workerIndex)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Tracked
	for rows.Next() {
		var margin, authority, control string
		if err := rows.Scan(&margin, &authority, &control); err != nil {
			return nil, err
		}
		t, err := parseTracked(margin, authority, control)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func parseTracked(margin, authority, control string) (Tracked, error) {
	var (
		t   Tracked
		err error
	)
	if t.Margin, err = solana.PublicKeyFromBase58(margin); err != nil {
		return t, fmt.Errorf("margin %q: %w", margin, err)
	}
	if t.Authority, err = solana.PublicKeyFromBase58(authority); err != nil {
		return t, fmt.Errorf("authority %q: %w", authority, err)
	}
	if t.Control, err = solana.PublicKeyFromBase58(control); err != nil {
		return t, fmt.Errorf("control %q: %w", control, err)
	}
	return t, nil
}
