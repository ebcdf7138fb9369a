package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
	"github.com/atmx/fasset-manager/internal/settings"
)

// PostgresStore implements Store on PostgreSQL. Token amounts are stored
// as NUMERIC(78,0) so that 256-bit values round-trip exactly; agents keep
// their full record in a JSONB document next to the queryable columns.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS agents (
    manager            TEXT NOT NULL,
    vault_address      TEXT NOT NULL,
    owner              TEXT NOT NULL,
    underlying_address TEXT NOT NULL,
    status             TEXT NOT NULL,
    collateral_wei     NUMERIC(78,0) NOT NULL,
    minted_amg         NUMERIC(78,0) NOT NULL,
    doc                JSONB NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (manager, vault_address)
);

CREATE TABLE IF NOT EXISTS collateral_reservations (
    manager           TEXT NOT NULL,
    id                BIGINT NOT NULL,
    agent_vault       TEXT NOT NULL,
    minter            TEXT NOT NULL,
    value_uba         NUMERIC(78,0) NOT NULL,
    minting_fee_uba   NUMERIC(78,0) NOT NULL,
    payment_reference TEXT NOT NULL,
    status            TEXT NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (manager, id)
);

CREATE TABLE IF NOT EXISTS redemption_requests (
    manager                     TEXT NOT NULL,
    id                          BIGINT NOT NULL,
    agent_vault                 TEXT NOT NULL,
    redeemer                    TEXT NOT NULL,
    redeemer_underlying_address TEXT NOT NULL,
    value_amg                   NUMERIC(78,0) NOT NULL,
    value_uba                   NUMERIC(78,0) NOT NULL,
    fee_uba                     NUMERIC(78,0) NOT NULL,
    first_underlying_block      BIGINT NOT NULL,
    last_underlying_block       BIGINT NOT NULL,
    last_underlying_timestamp   BIGINT NOT NULL,
    payment_reference           TEXT NOT NULL,
    status                      TEXT NOT NULL,
    requested_at                TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (manager, id)
);
CREATE INDEX IF NOT EXISTS redemption_requests_redeemer ON redemption_requests (manager, redeemer);

CREATE TABLE IF NOT EXISTS settings_versions (
    manager     TEXT NOT NULL,
    version     BIGINT NOT NULL,
    settings    JSONB NOT NULL,
    last_update JSONB NOT NULL DEFAULT '{}',
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (manager, version)
);
ALTER TABLE settings_versions ADD COLUMN IF NOT EXISTS last_update JSONB NOT NULL DEFAULT '{}';

CREATE TABLE IF NOT EXISTS events (
    seq       BIGSERIAL PRIMARY KEY,
    id        UUID NOT NULL UNIQUE,
    source    TEXT NOT NULL,
    name      TEXT NOT NULL,
    timestamp TIMESTAMPTZ NOT NULL,
    args      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS events_source_name ON events (source, name);
`

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate postgres: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveAgent(ctx context.Context, a *model.Agent) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO agents (manager, vault_address, owner, underlying_address, status, collateral_wei, minted_amg, doc, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9)
		 ON CONFLICT (manager, vault_address) DO UPDATE
		 SET status = EXCLUDED.status, collateral_wei = EXCLUDED.collateral_wei,
		     minted_amg = EXCLUDED.minted_amg, doc = EXCLUDED.doc`,
		a.Manager, a.VaultAddress, a.Owner, a.UnderlyingAddress, string(a.Status),
		a.CollateralWei.String(), a.MintedAMG.String(), doc, a.CreatedAt,
	)
	return err
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, manager, vault string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE manager = $1 AND vault_address = $2`, manager, vault)
	return err
}

func (s *PostgresStore) SaveReservation(ctx context.Context, r *model.CollateralReservation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO collateral_reservations (manager, id, agent_vault, minter, value_uba, minting_fee_uba, payment_reference, status, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9)
		 ON CONFLICT (manager, id) DO UPDATE SET status = EXCLUDED.status`,
		r.Manager, int64(r.ID), r.AgentVault, r.Minter,
		r.ValueUBA.String(), r.MintingFeeUBA.String(),
		r.PaymentReference, string(r.Status), r.CreatedAt,
	)
	return err
}

func (s *PostgresStore) SaveRedemption(ctx context.Context, r *model.RedemptionRequest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO redemption_requests (manager, id, agent_vault, redeemer, redeemer_underlying_address,
		        value_amg, value_uba, fee_uba,
		        first_underlying_block, last_underlying_block, last_underlying_timestamp,
		        payment_reference, status, requested_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (manager, id) DO UPDATE SET status = EXCLUDED.status`,
		r.Manager, int64(r.ID), r.AgentVault, r.Redeemer, r.RedeemerUnderlyingAddress,
		r.ValueAMG.String(), r.ValueUBA.String(), r.FeeUBA.String(),
		int64(r.FirstUnderlyingBlock), int64(r.LastUnderlyingBlock), r.LastUnderlyingTimestamp,
		r.PaymentReference, string(r.Status), r.RequestedAt,
	)
	return err
}

func (s *PostgresStore) SaveSettings(ctx context.Context, manager string, snap settings.Snapshot) error {
	doc, err := json.Marshal(snap.Settings)
	if err != nil {
		return err
	}
	last, err := json.Marshal(snap.LastUpdate)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO settings_versions (manager, version, settings, last_update) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (manager, version) DO NOTHING`,
		manager, int64(snap.Version), doc, last,
	)
	return err
}

func (s *PostgresStore) GetSettings(ctx context.Context, manager string) (*settings.Snapshot, error) {
	var (
		version int64
		doc     []byte
		last    []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT version, settings, last_update FROM settings_versions
		 WHERE manager = $1 ORDER BY version DESC LIMIT 1`, manager).
		Scan(&version, &doc, &last)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: settings of %s", ErrNotFound, manager)
	}
	if err != nil {
		return nil, fmt.Errorf("get settings of %s: %w", manager, err)
	}
	return decodeSnapshot(manager, uint64(version), doc, last)
}

func (s *PostgresStore) ListAgents(ctx context.Context, manager string) ([]model.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM agents WHERE manager = $1 ORDER BY created_at`, manager)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var a model.Agent
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, fmt.Errorf("decode agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *PostgresStore) ListRedemptions(ctx context.Context, manager, redeemer string) ([]model.RedemptionRequest, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT manager, id, agent_vault, redeemer, redeemer_underlying_address,
		        value_amg::TEXT, value_uba::TEXT, fee_uba::TEXT,
		        first_underlying_block, last_underlying_block, last_underlying_timestamp,
		        payment_reference, status, requested_at
		 FROM redemption_requests WHERE manager = $1 AND redeemer = $2 ORDER BY id`, manager, redeemer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRedemptions(rows)
}

func (s *PostgresStore) InsertEvents(ctx context.Context, evs []events.Event) error {
	b := &pgx.Batch{}
	for _, e := range evs {
		args, err := json.Marshal(e.Args)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.Name, err)
		}
		b.Queue(`INSERT INTO events (id, source, name, timestamp, args) VALUES ($1, $2, $3, $4, $5)`,
			e.ID, e.Source, e.Name, e.Timestamp, args)
	}
	return s.pool.SendBatch(ctx, b).Close()
}

func (s *PostgresStore) ListEvents(ctx context.Context, f EventFilter) ([]events.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, source, name, timestamp, args FROM (
		     SELECT seq, id, source, name, timestamp, args FROM events
		     WHERE ($1::TEXT = '' OR source = $1) AND ($2::TEXT = '' OR name = $2)
		     ORDER BY seq DESC LIMIT $3
		 ) recent ORDER BY seq`,
		f.Source, f.Name, f.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// --- row scanning shared with SQLiteStore ---

// rowScanner is implemented by pgx.Rows and *sql.Rows.
type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// timestamp scans PostgreSQL TIMESTAMPTZ values and SQLite unix
// nanosecond integers.
type timestamp struct{ t *time.Time }

func (ts timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*ts.t = v.UTC()
	case int64:
		*ts.t = time.Unix(0, v).UTC()
	case nil:
		*ts.t = time.Time{}
	default:
		return fmt.Errorf("store: cannot scan %T into a timestamp", src)
	}
	return nil
}

func scanRedemptions(rows rowScanner) ([]model.RedemptionRequest, error) {
	var out []model.RedemptionRequest
	for rows.Next() {
		var (
			r                       model.RedemptionRequest
			id, first, last         int64
			valueAMG, valueUBA, fee string
			status                  string
		)
		if err := rows.Scan(&r.Manager, &id, &r.AgentVault, &r.Redeemer, &r.RedeemerUnderlyingAddress,
			&valueAMG, &valueUBA, &fee,
			&first, &last, &r.LastUnderlyingTimestamp,
			&r.PaymentReference, &status, timestamp{&r.RequestedAt}); err != nil {
			return nil, err
		}
		var err error
		if r.ValueAMG, err = sdkmath.ParseUint(valueAMG); err != nil {
			return nil, fmt.Errorf("redemption %d value_amg: %w", id, err)
		}
		if r.ValueUBA, err = sdkmath.ParseUint(valueUBA); err != nil {
			return nil, fmt.Errorf("redemption %d value_uba: %w", id, err)
		}
		if r.FeeUBA, err = sdkmath.ParseUint(fee); err != nil {
			return nil, fmt.Errorf("redemption %d fee_uba: %w", id, err)
		}
		r.ID, r.FirstUnderlyingBlock, r.LastUnderlyingBlock = uint64(id), uint64(first), uint64(last)
		r.Status = model.RedemptionStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanEvents(rows rowScanner) ([]events.Event, error) {
	var out []events.Event
	for rows.Next() {
		var (
			e    events.Event
			args []byte
		)
		if err := rows.Scan(&e.ID, &e.Source, &e.Name, timestamp{&e.Timestamp}, &args); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(args, &e.Args); err != nil {
			return nil, fmt.Errorf("decode event %s args: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
