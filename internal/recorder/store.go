// Package recorder 把拉盘前后的盘口快照和会话结果写入 SQLite。
package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pump-trader-go/internal/session"
	"pump-trader-go/market"
)

// Snapshot 某一时刻的前几档盘口。
type Snapshot struct {
	Pair string
	At   time.Time
	Bids []market.Level
	Asks []market.Level
}

// Store SQLite 存储，单连接写入，WAL 允许并发读。
type Store struct {
	db *sql.DB
}

// Open 打开或创建 path 处的数据库。
func Open(path string) (*Store, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "pump-trader", "recorder.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

// Close 关闭数据库。
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS book_snapshots (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			pair        TEXT NOT NULL,
			taken_at    INTEGER NOT NULL,
			bids        TEXT NOT NULL,
			asks        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_pair ON book_snapshots(pair, taken_at)`,
		`CREATE TABLE IF NOT EXISTS session_outcomes (
			id               TEXT PRIMARY KEY,
			pair             TEXT NOT NULL,
			kind             TEXT NOT NULL,
			result           TEXT NOT NULL,
			entry_price      REAL NOT NULL,
			estimated_profit REAL NOT NULL,
			leaked_orders    TEXT NOT NULL DEFAULT '',
			started_at       INTEGER NOT NULL,
			finished_at      INTEGER NOT NULL,
			error            TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_finished ON session_outcomes(finished_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveSnapshot 写入一条盘口快照。
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	bids, err := json.Marshal(snap.Bids)
	if err != nil {
		return fmt.Errorf("encode bids: %w", err)
	}
	asks, err := json.Marshal(snap.Asks)
	if err != nil {
		return fmt.Errorf("encode asks: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO book_snapshots (pair, taken_at, bids, asks) VALUES (?,?,?,?)`,
		snap.Pair, snap.At.UnixNano(), string(bids), string(asks))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Snapshots 按时间正序返回 pair 最近的 limit 条快照。
func (s *Store) Snapshots(ctx context.Context, pair string, limit int) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pair, taken_at, bids, asks FROM (
			SELECT id, pair, taken_at, bids, asks FROM book_snapshots
			WHERE pair = ? ORDER BY taken_at DESC, id DESC LIMIT ?
		) ORDER BY taken_at ASC, id ASC`, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			snap       Snapshot
			at         int64
			bids, asks string
		)
		if err := rows.Scan(&snap.Pair, &at, &bids, &asks); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.At = time.Unix(0, at).UTC()
		if err := json.Unmarshal([]byte(bids), &snap.Bids); err != nil {
			return nil, fmt.Errorf("decode bids: %w", err)
		}
		if err := json.Unmarshal([]byte(asks), &snap.Asks); err != nil {
			return nil, fmt.Errorf("decode asks: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// SaveOutcome 写入会话结果；同一 ID 重复写入时覆盖。
func (s *Store) SaveOutcome(ctx context.Context, out session.Outcome) error {
	var errText sql.NullString
	if out.Err != nil {
		errText = sql.NullString{String: out.Err.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO session_outcomes
			(id, pair, kind, result, entry_price, estimated_profit, leaked_orders,
			 started_at, finished_at, error)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		out.ID, out.Pair, string(out.Kind), string(out.Result),
		out.EntryPrice, out.EstimatedProfit, strings.Join(out.LeakedOrders, ","),
		out.Started.UnixNano(), out.Finished.UnixNano(), errText,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// JournalEntry 会话结果的持久化形式（错误只保留文本）。
type JournalEntry struct {
	ID              string
	Pair            string
	Kind            session.Kind
	Result          session.Result
	EntryPrice      float64
	EstimatedProfit float64
	LeakedOrders    []string
	Started         time.Time
	Finished        time.Time
	Error           string
}

// RecentOutcomes 最近结束的 limit 个会话，新的在前。
func (s *Store) RecentOutcomes(ctx context.Context, limit int) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pair, kind, result, entry_price, estimated_profit, leaked_orders,
		       started_at, finished_at, error
		FROM session_outcomes ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var (
			e                 JournalEntry
			kind, result      string
			leaked            string
			started, finished int64
			errText           sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Pair, &kind, &result, &e.EntryPrice, &e.EstimatedProfit,
			&leaked, &started, &finished, &errText); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		e.Kind, e.Result = session.Kind(kind), session.Result(result)
		if leaked != "" {
			e.LeakedOrders = strings.Split(leaked, ",")
		}
		e.Started = time.Unix(0, started).UTC()
		e.Finished = time.Unix(0, finished).UTC()
		e.Error = errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}
