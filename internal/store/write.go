package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/voltchain/internal/ir"
)

// Apply commits a transition's batch atomically and returns the sealed
// notification (seq and ID assigned).
//
// Within one SQL transaction:
//  1. the next seq is taken from the notification log
//  2. creations INSERT ... ON CONFLICT DO NOTHING; zero rows means ErrExists
//  3. updates bump version WHERE version = PrevVersion; zero rows means
//     ErrVersionConflict (or ErrNotFound if the address is empty)
//  4. the notification row is appended
//
// Any failure rolls back every step; there are no partial effects.
func (s *Store) Apply(ctx context.Context, b Batch) (ir.Notification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Notification{}, fmt.Errorf("apply batch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var last int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM notifications`).Scan(&last); err != nil {
		return ir.Notification{}, fmt.Errorf("apply batch: read seq: %w", err)
	}
	seq := last + 1

	for _, m := range b.Mutations {
		if err := applyMutation(ctx, tx, m, seq); err != nil {
			return ir.Notification{}, fmt.Errorf("apply batch: %w", err)
		}
	}

	n, err := SealNotification(b.Notification, seq)
	if err != nil {
		return ir.Notification{}, fmt.Errorf("apply batch: %w", err)
	}

	payload, err := marshalPayload(n.Payload)
	if err != nil {
		return ir.Notification{}, fmt.Errorf("apply batch: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO notifications
		(seq, id, request_id, namespace, transition, name, caller, payload, engine_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.Seq,
		n.ID,
		n.RequestID,
		n.Namespace,
		string(n.Transition),
		n.Name,
		string(n.Caller),
		payload,
		ir.EngineVersion,
	)
	if err != nil {
		return ir.Notification{}, fmt.Errorf("apply batch: write notification: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ir.Notification{}, fmt.Errorf("apply batch: commit: %w", err)
	}

	return n, nil
}

func applyMutation(ctx context.Context, tx *sql.Tx, m Mutation, seq int64) error {
	if m.IsCreate() {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO records
			(address, namespace, kind, body, version, updated_seq)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT(address) DO NOTHING
		`,
			string(m.Address),
			m.Namespace,
			string(m.Kind),
			string(m.Body),
			seq,
		)
		if err != nil {
			return fmt.Errorf("create %s %s: %w", m.Kind, m.Address, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("create %s %s: rows affected: %w", m.Kind, m.Address, err)
		} else if n == 0 {
			return fmt.Errorf("create %s %s: %w", m.Kind, m.Address, ErrExists)
		}
		return nil
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE records
		SET body = ?, version = version + 1, updated_seq = ?
		WHERE address = ? AND version = ?
	`,
		string(m.Body),
		seq,
		string(m.Address),
		m.PrevVersion,
	)
	if err != nil {
		return fmt.Errorf("update %s %s: %w", m.Kind, m.Address, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s %s: rows affected: %w", m.Kind, m.Address, err)
	}
	if n == 1 {
		return nil
	}

	var version int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM records WHERE address = ?`, string(m.Address)).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update %s %s: %w", m.Kind, m.Address, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update %s %s: read version: %w", m.Kind, m.Address, err)
	}
	return fmt.Errorf("update %s %s: have version %d, expected %d: %w",
		m.Kind, m.Address, version, m.PrevVersion, ErrVersionConflict)
}
