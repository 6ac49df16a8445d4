// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Mirror replicates committed entities into a SQL database so operators can
// query the index with plain SQL. The key-value store stays authoritative;
// the mirror is rebuilt for free on replay.
type Mirror struct {
	db     *sql.DB
	driver string
}

// OpenMirror connects a SQL mirror. Supported drivers: "postgres" (lib/pq)
// and "sqlite3" (mattn/go-sqlite3).
func OpenMirror(driver, dsn string) (*Mirror, error) {
	switch driver {
	case "postgres", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported mirror driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open mirror: %w", err)
	}
	return &Mirror{db: db, driver: driver}, nil
}

// InitSchema creates the mirror tables if they do not exist.
func (m *Mirror) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			block_number BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (kind, id)
		)`,
		`CREATE INDEX IF NOT EXISTS entities_kind ON entities (kind)`,
		`CREATE TABLE IF NOT EXISTS checkpoint (
			id INTEGER PRIMARY KEY,
			block_number BIGINT NOT NULL,
			log_index BIGINT NOT NULL,
			run_id TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := m.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("init mirror schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (m *Mirror) rebind(query string) string {
	if m.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Apply upserts one committed batch, tagged with the block that produced it.
func (m *Mirror) Apply(ctx context.Context, blockNumber uint64, entities []StagedEntity) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mirror begin: %w", err)
	}
	defer tx.Rollback()

	upsert := m.rebind(`INSERT INTO entities (kind, id, data, block_number)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE
		SET data = excluded.data, block_number = excluded.block_number`)
	del := m.rebind(`DELETE FROM entities WHERE kind = ? AND id = ?`)

	for _, e := range entities {
		if e.Deleted {
			if _, err := tx.ExecContext(ctx, del, string(e.Kind), e.ID); err != nil {
				return fmt.Errorf("mirror delete %s/%s: %w", e.Kind, e.ID, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, upsert, string(e.Kind), e.ID, string(e.Data), int64(blockNumber)); err != nil {
			return fmt.Errorf("mirror upsert %s/%s: %w", e.Kind, e.ID, err)
		}
	}
	return tx.Commit()
}

// PutCheckpoint mirrors the replay cursor.
func (m *Mirror) PutCheckpoint(ctx context.Context, cp Checkpoint) error {
	q := m.rebind(`INSERT INTO checkpoint (id, block_number, log_index, run_id)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET block_number = excluded.block_number,
		    log_index = excluded.log_index,
		    run_id = excluded.run_id`)
	_, err := m.db.ExecContext(ctx, q, int64(cp.BlockNumber), int64(cp.LogIndex), cp.RunID)
	return err
}

// Ping checks connectivity.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Close closes the SQL connection.
func (m *Mirror) Close() error {
	return m.db.Close()
}
