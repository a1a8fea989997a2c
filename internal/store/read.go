package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/voltchain/internal/ir"
)

// Load returns the records stored at the given addresses.
// Absent addresses are simply missing from the result map.
func (s *Store) Load(ctx context.Context, addrs []ir.Address) (map[ir.Address]Record, error) {
	out := make(map[ir.Address]Record, len(addrs))
	if len(addrs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(addrs)), ",")
	args := make([]any, len(addrs))
	for i, a := range addrs {
		args[i] = string(a)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT address, namespace, kind, body, version
		FROM records
		WHERE address IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out[rec.Address] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return out, nil
}

// Get returns the record at addr, or ErrNotFound.
func (s *Store) Get(ctx context.Context, addr ir.Address) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, namespace, kind, body, version
		FROM records
		WHERE address = ?
	`, string(addr))

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("get %s: %w", addr, ErrNotFound)
	}
	return rec, err
}

// Records lists every record of a kind in a namespace, ordered by address.
// This is a read-side view for audits and dashboards; transitions never use it.
func (s *Store) Records(ctx context.Context, namespace string, kind ir.Kind) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, namespace, kind, body, version
		FROM records
		WHERE namespace = ? AND kind = ?
		ORDER BY address COLLATE BINARY ASC
	`, namespace, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return records, nil
}

// Notifications returns notifications matching q in seq order.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) Notifications(ctx context.Context, q NotificationQuery) ([]ir.Notification, error) {
	var (
		where []string
		args  []any
	)
	where = append(where, "seq > ?")
	args = append(args, q.AfterSeq)
	if q.Namespace != "" {
		where = append(where, "namespace = ?")
		args = append(args, q.Namespace)
	}
	if q.Name != "" {
		where = append(where, "name = ?")
		args = append(args, q.Name)
	}

	query := `
		SELECT seq, id, request_id, namespace, transition, name, caller, payload
		FROM notifications
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY seq ASC`
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	out := []ir.Notification{}
	for rows.Next() {
		var (
			n          ir.Notification
			transition string
			caller     string
			payload    string
		)
		if err := rows.Scan(&n.Seq, &n.ID, &n.RequestID, &n.Namespace, &transition, &n.Name, &caller, &payload); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Transition = ir.Transition(transition)
		n.Caller = ir.Identity(caller)
		if n.Payload, err = unmarshalPayload(payload); err != nil {
			return nil, fmt.Errorf("notification %d: %w", n.Seq, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}

	return out, nil
}

// LastSeq returns the highest committed notification seq (0 when empty).
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM notifications`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec     Record
		address string
		kind    string
		body    string
	)
	if err := row.Scan(&address, &rec.Namespace, &kind, &body, &rec.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.Address = ir.Address(address)
	rec.Kind = ir.Kind(kind)
	rec.Body = []byte(body)
	return rec, nil
}
