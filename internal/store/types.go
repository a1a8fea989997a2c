package store

import (
	"context"
	"errors"

	"github.com/roach88/voltchain/internal/ir"
)

// Sentinel errors shared by every record store implementation.
var (
	// ErrExists is returned when a creation targets an occupied address.
	ErrExists = errors.New("record already exists")

	// ErrNotFound is returned when no record lives at an address.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when an update's expected version is stale.
	ErrVersionConflict = errors.New("record version conflict")
)

// Record is a stored record body with its bookkeeping columns.
type Record struct {
	Address   ir.Address
	Namespace string
	Kind      ir.Kind
	Body      []byte // canonical JSON
	Version   int64  // 1 on creation, +1 per update
}

// Mutation is one record write inside a Batch.
//
// PrevVersion == 0 means "create": the address must be free.
// Otherwise the stored version must equal PrevVersion.
type Mutation struct {
	Address     ir.Address
	Namespace   string
	Kind        ir.Kind
	Body        []byte
	PrevVersion int64
}

// IsCreate reports whether the mutation creates a new record.
func (m Mutation) IsCreate() bool {
	return m.PrevVersion == 0
}

// Batch is the complete effect of one transition.
type Batch struct {
	Mutations    []Mutation
	Notification ir.Notification
}

// NotificationQuery filters the notification log.
// Zero values mean "no filter"; Limit <= 0 means unlimited.
type NotificationQuery struct {
	Namespace string
	AfterSeq  int64
	Name      string
	Limit     int
}

// Matches reports whether n passes the query's filters (Limit excluded).
func (q NotificationQuery) Matches(n ir.Notification) bool {
	if q.Namespace != "" && n.Namespace != q.Namespace {
		return false
	}
	if n.Seq <= q.AfterSeq {
		return false
	}
	if q.Name != "" && n.Name != q.Name {
		return false
	}
	return true
}

// Backend is the full contract implemented by the SQLite Store and the
// in-memory store. Observers (audit, settlement, CLI views) depend on it;
// the engine depends on a narrower interface of its own.
type Backend interface {
	Apply(ctx context.Context, b Batch) (ir.Notification, error)
	Load(ctx context.Context, addrs []ir.Address) (map[ir.Address]Record, error)
	Get(ctx context.Context, addr ir.Address) (Record, error)
	Records(ctx context.Context, namespace string, kind ir.Kind) ([]Record, error)
	Notifications(ctx context.Context, q NotificationQuery) ([]ir.Notification, error)
	LastSeq(ctx context.Context) (int64, error)
	Close() error
}

var _ Backend = (*Store)(nil)
