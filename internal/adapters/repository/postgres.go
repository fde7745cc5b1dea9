package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"

	"github.com/okian/traderscore/internal/domain/model"
	"github.com/okian/traderscore/pkg/logger"
	"github.com/okian/traderscore/pkg/metrics"
)

const defaultQueryTimeout = 5 * time.Second

// PostgresStore persists trader rows in trader_metrics and their trades in
// trade_records.
type PostgresStore struct {
	db           *sqlx.DB
	timeout      time.Duration
	maxOpenConns int
	logger       logger.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open database handle. The schema must exist.
func NewPostgresStore(db *sqlx.DB, opts ...Option) *PostgresStore {
	s := &PostgresStore{db: db, timeout: defaultQueryTimeout}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Named("repository")
	}
	return s
}

// OpenPostgres connects with the pgx driver, verifies the connection and
// applies pending migrations.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := NewPostgresStore(db, opts...)
	if s.maxOpenConns > 0 {
		db.SetMaxOpenConns(s.maxOpenConns)
		db.SetMaxIdleConns(s.maxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := Migrate(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// traderRow is the trader_metrics column set.
type traderRow struct {
	Username          string    `db:"username"`
	Platform          string    `db:"platform"`
	Followers         int       `db:"followers"`
	PlatformVerified  bool      `db:"platform_verified"`
	Metrics           []byte    `db:"metrics"`
	FraudScore        float64   `db:"fraud_score"`
	FraudReasons      []byte    `db:"fraud_reasons"`
	VerificationScore float64   `db:"verification_score"`
	OverallScore      float64   `db:"overall_score"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func toRow(rec model.TraderRecord) (traderRow, error) {
	m, err := json.Marshal(rec.Metrics)
	if err != nil {
		return traderRow{}, fmt.Errorf("marshal metrics: %w", err)
	}
	reasons := rec.FraudReasons
	if reasons == nil {
		reasons = []string{}
	}
	r, err := json.Marshal(reasons)
	if err != nil {
		return traderRow{}, fmt.Errorf("marshal fraud reasons: %w", err)
	}
	return traderRow{
		Username:          rec.Username,
		Platform:          string(rec.Platform),
		Followers:         rec.Followers,
		PlatformVerified:  rec.PlatformVerified,
		Metrics:           m,
		FraudScore:        rec.FraudScore,
		FraudReasons:      r,
		VerificationScore: rec.VerificationScore,
		OverallScore:      rec.OverallScore,
		UpdatedAt:         rec.UpdatedAt.UTC(),
	}, nil
}

func (r traderRow) record() (model.TraderRecord, error) {
	rec := model.TraderRecord{
		Username:          r.Username,
		Platform:          model.Platform(r.Platform),
		Followers:         r.Followers,
		PlatformVerified:  r.PlatformVerified,
		FraudScore:        r.FraudScore,
		VerificationScore: r.VerificationScore,
		OverallScore:      r.OverallScore,
		UpdatedAt:         r.UpdatedAt.UTC(),
		FraudReasons:      []string{},
	}
	if err := json.Unmarshal(r.Metrics, &rec.Metrics); err != nil {
		return model.TraderRecord{}, fmt.Errorf("decode metrics of %s/%s: %w", r.Platform, r.Username, err)
	}
	if len(r.FraudReasons) > 0 {
		if err := json.Unmarshal(r.FraudReasons, &rec.FraudReasons); err != nil {
			return model.TraderRecord{}, fmt.Errorf("decode fraud reasons of %s/%s: %w", r.Platform, r.Username, err)
		}
	}
	return rec, nil
}

const (
	upsertTraderSQL = `
		INSERT INTO trader_metrics (username, platform, followers, platform_verified, metrics,
			fraud_score, fraud_reasons, verification_score, overall_score, updated_at)
		VALUES (:username, :platform, :followers, :platform_verified, :metrics,
			:fraud_score, :fraud_reasons, :verification_score, :overall_score, :updated_at)
		ON CONFLICT (username, platform) DO UPDATE SET
			followers = EXCLUDED.followers,
			platform_verified = EXCLUDED.platform_verified,
			metrics = EXCLUDED.metrics,
			fraud_score = EXCLUDED.fraud_score,
			fraud_reasons = EXCLUDED.fraud_reasons,
			verification_score = EXCLUDED.verification_score,
			overall_score = EXCLUDED.overall_score,
			updated_at = EXCLUDED.updated_at`

	deleteTradesSQL = `DELETE FROM trade_records WHERE username = $1 AND platform = $2`

	insertTradesSQL = `
		INSERT INTO trade_records (id, username, platform, pair, signal_type, entry_price, exit_price,
			entry_timestamp, exit_timestamp, profit_loss, profit_loss_pct, network, verified,
			verification_source, confidence_score)
		VALUES (:id, :username, :platform, :pair, :signal_type, :entry_price, :exit_price,
			:entry_timestamp, :exit_timestamp, :profit_loss, :profit_loss_pct, :network, :verified,
			:verification_source, :confidence_score)`

	traderColumns = `username, platform, followers, platform_verified, metrics, fraud_score,
		fraud_reasons, verification_score, overall_score, updated_at`

	rankingOrder = `overall_score DESC, verification_score DESC, username COLLATE "C" ASC, platform COLLATE "C" ASC`

	tradeColumns = `id, username, platform, pair, signal_type, entry_price, exit_price, entry_timestamp,
		exit_timestamp, profit_loss, profit_loss_pct, network, verified, verification_source, confidence_score`

	tradeOrder = `exit_timestamp, entry_timestamp, pair, profit_loss_pct`
)

// Upsert writes the metrics row and replaces the trade set in one transaction.
func (s *PostgresStore) Upsert(ctx context.Context, rec model.TraderRecord) error {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryWriteLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := validateKey(rec.Key()); err != nil {
		metrics.RecordRepositoryError("upsert")
		return err
	}
	row, err := toRow(rec)
	if err != nil {
		metrics.RecordRepositoryError("upsert")
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.upsertTx(ctx, row, rec.Trades); err != nil {
		metrics.RecordRepositoryError("upsert")
		s.logger.Error(ctx, "trader upsert failed",
			logger.String("trader", rec.Key().String()),
			logger.Error(err),
		)
		return err
	}
	return nil
}

func (s *PostgresStore) upsertTx(ctx context.Context, row traderRow, trades []model.TradeRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NamedExecContext(ctx, upsertTraderSQL, row); err != nil {
		return fmt.Errorf("upsert trader metrics: %w", err)
	}
	if _, err := tx.ExecContext(ctx, deleteTradesSQL, row.Username, row.Platform); err != nil {
		return fmt.Errorf("delete trades: %w", err)
	}
	if len(trades) > 0 {
		batch := make([]model.TradeRecord, len(trades))
		for i, t := range trades {
			t.TraderUsername = row.Username
			t.Platform = model.Platform(row.Platform)
			t.EntryTimestamp = t.EntryTimestamp.UTC()
			t.ExitTimestamp = t.ExitTimestamp.UTC()
			batch[i] = t
		}
		if _, err := tx.NamedExecContext(ctx, insertTradesSQL, batch); err != nil {
			return fmt.Errorf("insert trades: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Get returns the trader's row and trades.
func (s *PostgresStore) Get(ctx context.Context, key model.TraderKey) (model.TraderRecord, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row traderRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+traderColumns+` FROM trader_metrics WHERE username = $1 AND platform = $2`,
		key.Username, string(key.Platform))
	if errors.Is(err, sql.ErrNoRows) {
		return model.TraderRecord{}, ErrNotFound
	}
	if err != nil {
		metrics.RecordRepositoryError("get")
		return model.TraderRecord{}, fmt.Errorf("get trader %s: %w", key, err)
	}
	rec, err := row.record()
	if err != nil {
		metrics.RecordRepositoryError("get")
		return model.TraderRecord{}, err
	}
	if rec.Trades, err = s.selectTrades(ctx, key); err != nil {
		return model.TraderRecord{}, err
	}
	return rec, nil
}

// List returns rows in ranking order without trades.
func (s *PostgresStore) List(ctx context.Context, platform model.Platform, limit int) ([]model.TraderRecord, error) {
	start := time.Now()
	defer func() {
		metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	if limit < 0 {
		return nil, ErrInvalidLimit
	}
	var lim interface{}
	if limit > 0 {
		lim = limit
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var rows []traderRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+traderColumns+` FROM trader_metrics
		WHERE ($1 = '' OR platform = $1)
		ORDER BY `+rankingOrder+`
		LIMIT $2`,
		string(platform), lim)
	if err != nil {
		metrics.RecordRepositoryError("list")
		return nil, fmt.Errorf("list traders: %w", err)
	}
	out := make([]model.TraderRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			metrics.RecordRepositoryError("list")
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Trades returns the stored trades of a trader in chronological order.
func (s *PostgresStore) Trades(ctx context.Context, key model.TraderKey) ([]model.TradeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM trader_metrics WHERE username = $1 AND platform = $2)`,
		key.Username, string(key.Platform))
	if err != nil {
		metrics.RecordRepositoryError("trades")
		return nil, fmt.Errorf("lookup trader %s: %w", key, err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return s.selectTrades(ctx, key)
}

func (s *PostgresStore) selectTrades(ctx context.Context, key model.TraderKey) ([]model.TradeRecord, error) {
	trades := []model.TradeRecord{}
	err := s.db.SelectContext(ctx, &trades,
		`SELECT `+tradeColumns+` FROM trade_records WHERE username = $1 AND platform = $2 ORDER BY `+tradeOrder,
		key.Username, string(key.Platform))
	if err != nil {
		metrics.RecordRepositoryError("trades")
		return nil, fmt.Errorf("select trades of %s: %w", key, err)
	}
	for i := range trades {
		trades[i].EntryTimestamp = trades[i].EntryTimestamp.UTC()
		trades[i].ExitTimestamp = trades[i].ExitTimestamp.UTC()
	}
	return trades, nil
}

// Count returns the number of stored traders.
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM trader_metrics`); err != nil {
		metrics.RecordRepositoryError("count")
		return 0, fmt.Errorf("count traders: %w", err)
	}
	return n, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
