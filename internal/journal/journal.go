package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/circuitbot/internal/events"
	"github.com/betbot/circuitbot/internal/ladder"
)

var journalLog = logrus.WithField("component", "journal")

// Journal 阶梯结果的 sqlite 流水
// 作为 events.Sink 挂到引擎上，只关心 OnOrdersComplete
type Journal struct {
	events.Nop
	db *sql.DB
}

// Open 打开（必要时创建）数据库；path 为 ":memory:" 时使用内存库
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal db path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
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

func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS ladder_runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  account_id TEXT NOT NULL,
  account_name TEXT NOT NULL,
  venue TEXT NOT NULL,
  symbol TEXT NOT NULL,
  success INTEGER NOT NULL,
  circuit_reached INTEGER NOT NULL,
  circuit_price REAL,
  orders_placed INTEGER NOT NULL,
  prices_json TEXT NOT NULL,
  message TEXT,
  started_at TEXT NOT NULL,
  finished_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_ladder_runs_account ON ladder_runs(account_id, finished_at DESC);`,
		`
CREATE TABLE IF NOT EXISTS ladder_orders (
  run_row INTEGER NOT NULL REFERENCES ladder_runs(id) ON DELETE CASCADE,
  price REAL NOT NULL,
  qty INTEGER NOT NULL,
  is_circuit INTEGER NOT NULL,
  status TEXT NOT NULL,
  detail TEXT,
  placed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_ladder_orders_run ON ladder_orders(run_row);`,
	}
	for _, s := range stmts {
		if _, err := j.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Record 写入一批阶梯结果（单事务）
func (j *Journal) Record(ctx context.Context, results []ladder.Result) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range results {
		prices, _ := json.Marshal(r.Prices)
		res, err := tx.ExecContext(ctx, `
INSERT INTO ladder_runs (run_id,account_id,account_name,venue,symbol,success,circuit_reached,circuit_price,orders_placed,prices_json,message,started_at,finished_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
`, r.RunID, r.AccountID, r.AccountName, string(r.Venue), r.Symbol, boolInt(r.Success), boolInt(r.CircuitReached),
			r.CircuitPrice, r.OrdersPlaced, string(prices), r.Message,
			r.StartedAt.Format(time.RFC3339Nano), r.FinishedAt.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		row, err := res.LastInsertId()
		if err != nil {
			return err
		}
		for _, o := range r.Orders {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO ladder_orders (run_row,price,qty,is_circuit,status,detail,placed_at) VALUES (?,?,?,?,?,?,?)
`, row, o.Price, o.Qty, boolInt(o.IsCircuit), string(o.Status), o.Detail, o.PlacedAt.Format(time.RFC3339Nano)); err != nil {
				return fmt.Errorf("insert order: %w", err)
			}
		}
	}
	return tx.Commit()
}

// OnOrdersComplete 写入失败只记日志
func (j *Journal) OnOrdersComplete(results []ladder.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := j.Record(ctx, results); err != nil {
		journalLog.Errorf("❌ 写入阶梯流水失败: %v", err)
		return
	}
	journalLog.Infof("📒 已记录 %d 条阶梯结果", len(results))
}

// Entry 一条阶梯流水
type Entry struct {
	ID             int64     `json:"id"`
	RunID          string    `json:"runId"`
	AccountID      string    `json:"accountId"`
	AccountName    string    `json:"accountName"`
	Venue          string    `json:"venue"`
	Symbol         string    `json:"symbol"`
	Success        bool      `json:"success"`
	CircuitReached bool      `json:"circuitReached"`
	CircuitPrice   float64   `json:"circuitPrice,omitempty"`
	OrdersPlaced   int       `json:"ordersPlaced"`
	Prices         []float64 `json:"prices"`
	Message        string    `json:"message,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
}

// Filter 查询条件
type Filter struct {
	AccountID string
	Symbol    string
	Limit     int
}

// List 按完成时间倒序返回
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT id,run_id,account_id,account_name,venue,symbol,success,circuit_reached,circuit_price,orders_placed,prices_json,message,started_at,finished_at
FROM ladder_runs
WHERE (?='' OR account_id=?) AND (?='' OR symbol=?)
ORDER BY finished_at DESC, id DESC
LIMIT ?
`, f.AccountID, f.AccountID, f.Symbol, f.Symbol, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                 Entry
			success, circuit  int
			circuitPrice      sql.NullFloat64
			prices            string
			message           sql.NullString
			started, finished string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.AccountID, &e.AccountName, &e.Venue, &e.Symbol, &success, &circuit,
			&circuitPrice, &e.OrdersPlaced, &prices, &message, &started, &finished); err != nil {
			return nil, err
		}
		e.Success = success == 1
		e.CircuitReached = circuit == 1
		e.CircuitPrice = circuitPrice.Float64
		e.Message = message.String
		_ = json.Unmarshal([]byte(prices), &e.Prices)
		e.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		e.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, e)
	}
	return out, rows.Err()
}
