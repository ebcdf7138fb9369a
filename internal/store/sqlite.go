package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/atmx/fasset-manager/internal/events"
	"github.com/atmx/fasset-manager/internal/model"
	"github.com/atmx/fasset-manager/internal/settings"
)

// SQLiteStore implements Store on a single SQLite file for nodes without
// PostgreSQL. Amounts are decimal TEXT, timestamps unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and creates the
// tables.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; readers wait on the busy timeout.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS agents (
    manager       TEXT NOT NULL,
    vault_address TEXT NOT NULL,
    owner         TEXT NOT NULL,
    status        TEXT NOT NULL,
    doc           TEXT NOT NULL,
    created_at    INTEGER NOT NULL,
    PRIMARY KEY (manager, vault_address)
);

CREATE TABLE IF NOT EXISTS collateral_reservations (
    manager           TEXT NOT NULL,
    id                INTEGER NOT NULL,
    agent_vault       TEXT NOT NULL,
    minter            TEXT NOT NULL,
    value_uba         TEXT NOT NULL,
    minting_fee_uba   TEXT NOT NULL,
    payment_reference TEXT NOT NULL,
    status            TEXT NOT NULL,
    created_at        INTEGER NOT NULL,
    PRIMARY KEY (manager, id)
);

CREATE TABLE IF NOT EXISTS redemption_requests (
    manager                     TEXT NOT NULL,
    id                          INTEGER NOT NULL,
    agent_vault                 TEXT NOT NULL,
    redeemer                    TEXT NOT NULL,
    redeemer_underlying_address TEXT NOT NULL,
    value_amg                   TEXT NOT NULL,
    value_uba                   TEXT NOT NULL,
    fee_uba                     TEXT NOT NULL,
    first_underlying_block      INTEGER NOT NULL,
    last_underlying_block       INTEGER NOT NULL,
    last_underlying_timestamp   INTEGER NOT NULL,
    payment_reference           TEXT NOT NULL,
    status                      TEXT NOT NULL,
    requested_at                INTEGER NOT NULL,
    PRIMARY KEY (manager, id)
);
CREATE INDEX IF NOT EXISTS redemption_requests_redeemer ON redemption_requests (manager, redeemer);

CREATE TABLE IF NOT EXISTS settings_versions (
    manager     TEXT NOT NULL,
    version     INTEGER NOT NULL,
    settings    TEXT NOT NULL,
    last_update TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY (manager, version)
);

CREATE TABLE IF NOT EXISTS events (
    seq       INTEGER PRIMARY KEY AUTOINCREMENT,
    id        TEXT NOT NULL UNIQUE,
    source    TEXT NOT NULL,
    name      TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    args      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS events_source_name ON events (source, name);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) SaveAgent(ctx context.Context, a *model.Agent) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (manager, vault_address, owner, status, doc, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (manager, vault_address) DO UPDATE SET status = excluded.status, doc = excluded.doc`,
		a.Manager, a.VaultAddress, a.Owner, string(a.Status), string(doc), a.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save agent %s: %w", a.VaultAddress, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAgent(ctx context.Context, manager, vault string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE manager = ? AND vault_address = ?`, manager, vault)
	return err
}

func (s *SQLiteStore) SaveReservation(ctx context.Context, r *model.CollateralReservation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO collateral_reservations (manager, id, agent_vault, minter, value_uba, minting_fee_uba, payment_reference, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (manager, id) DO UPDATE SET status = excluded.status`,
		r.Manager, int64(r.ID), r.AgentVault, r.Minter,
		r.ValueUBA.String(), r.MintingFeeUBA.String(),
		r.PaymentReference, string(r.Status), r.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save reservation %d: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveRedemption(ctx context.Context, r *model.RedemptionRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO redemption_requests (manager, id, agent_vault, redeemer, redeemer_underlying_address,
		        value_amg, value_uba, fee_uba,
		        first_underlying_block, last_underlying_block, last_underlying_timestamp,
		        payment_reference, status, requested_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (manager, id) DO UPDATE SET status = excluded.status`,
		r.Manager, int64(r.ID), r.AgentVault, r.Redeemer, r.RedeemerUnderlyingAddress,
		r.ValueAMG.String(), r.ValueUBA.String(), r.FeeUBA.String(),
		int64(r.FirstUnderlyingBlock), int64(r.LastUnderlyingBlock), r.LastUnderlyingTimestamp,
		r.PaymentReference, string(r.Status), r.RequestedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save redemption %d: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, manager string, snap settings.Snapshot) error {
	doc, err := json.Marshal(snap.Settings)
	if err != nil {
		return err
	}
	last, err := json.Marshal(snap.LastUpdate)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings_versions (manager, version, settings, last_update) VALUES (?, ?, ?, ?)
		 ON CONFLICT (manager, version) DO NOTHING`,
		manager, int64(snap.Version), string(doc), string(last),
	)
	return err
}

func (s *SQLiteStore) GetSettings(ctx context.Context, manager string) (*settings.Snapshot, error) {
	var (
		version int64
		doc     string
		last    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, settings, last_update FROM settings_versions
		 WHERE manager = ? ORDER BY version DESC LIMIT 1`, manager,
	).Scan(&version, &doc, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: settings of %s", ErrNotFound, manager)
	}
	if err != nil {
		return nil, fmt.Errorf("get settings of %s: %w", manager, err)
	}
	return decodeSnapshot(manager, uint64(version), []byte(doc), []byte(last))
}

func (s *SQLiteStore) ListAgents(ctx context.Context, manager string) ([]model.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM agents WHERE manager = ? ORDER BY created_at`, manager)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		var a model.Agent
		if err := json.Unmarshal([]byte(doc), &a); err != nil {
			return nil, fmt.Errorf("decode agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *SQLiteStore) ListRedemptions(ctx context.Context, manager, redeemer string) ([]model.RedemptionRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT manager, id, agent_vault, redeemer, redeemer_underlying_address,
		        value_amg, value_uba, fee_uba,
		        first_underlying_block, last_underlying_block, last_underlying_timestamp,
		        payment_reference, status, requested_at
		 FROM redemption_requests WHERE manager = ? AND redeemer = ? ORDER BY id`, manager, redeemer)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	defer rows.Close()

	return scanRedemptions(rows)
}

func (s *SQLiteStore) InsertEvents(ctx context.Context, evs []events.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, e := range evs {
		args, err := json.Marshal(e.Args)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, source, name, timestamp, args) VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.Source, e.Name, e.Timestamp.UnixNano(), string(args)); err != nil {
			return fmt.Errorf("insert event %s: %w", e.Name, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, name, timestamp, args FROM (
		     SELECT seq, id, source, name, timestamp, args FROM events
		     WHERE (?1 = '' OR source = ?1) AND (?2 = '' OR name = ?2)
		     ORDER BY seq DESC LIMIT ?3
		 ) ORDER BY seq`,
		f.Source, f.Name, f.limit())
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}
