package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/voltchain/internal/ir"
	"github.com/roach88/voltchain/internal/store"
)

// DefaultAssetField is the notification key for the pool's credit asset.
const DefaultAssetField = "credit_mint"

// RecordStore is the narrow store contract the engine needs: bulk load of
// declared addresses and atomic batch apply. Both store.Store and
// memory.Store satisfy it.
type RecordStore interface {
	Load(ctx context.Context, addrs []ir.Address) (map[ir.Address]store.Record, error)
	Apply(ctx context.Context, b store.Batch) (ir.Notification, error)
}

// Engine executes transitions for one pool namespace.
//
// Thread-safety model:
//   - Execute and the typed helpers are safe from any goroutine
//   - transitions over disjoint records run in parallel
//   - transitions over a shared record serialize through the lock table;
//     the loser fails with RECORD_BUSY instead of waiting
//
// Several engines may share a store as long as their namespaces differ.
type Engine struct {
	store      RecordStore
	namespace  string
	assetField string
	locks      *lockTable
	requestIDs RequestIDGenerator
	notifiers  []Notifier
	logger     *slog.Logger
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithLogger sets the logger used for committed and rejected transitions.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithAssetField sets the notification key under which the pool's credit
// asset reference is reported (for example "enx_mint"). Empty and reserved
// keys leave the default in place.
func WithAssetField(field string) Option {
	return func(e *Engine) {
		if field != "" && !reservedPoolKeys[field] {
			e.assetField = field
		}
	}
}

// reservedPoolKeys are the other keys of the PoolInitialized payload.
var reservedPoolKeys = map[string]bool{
	"authority": true,
	"payer":     true,
}

// WithRequestIDGenerator sets the generator used when an instruction
// carries no request ID. Default: UUIDv7Generator.
func WithRequestIDGenerator(g RequestIDGenerator) Option {
	return func(e *Engine) {
		e.requestIDs = g
	}
}

// WithNotifier registers a Notifier. May be given several times.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		e.notifiers = append(e.notifiers, n)
	}
}

// New creates an Engine over s for the given pool namespace.
func New(s RecordStore, namespace string, opts ...Option) *Engine {
	e := &Engine{
		store:      s,
		namespace:  namespace,
		assetField: DefaultAssetField,
		locks:      newLockTable(),
		requestIDs: UUIDv7Generator{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Namespace returns the pool namespace this engine writes to.
func (e *Engine) Namespace() string {
	return e.namespace
}

// AssetField returns the notification key used for the credit asset.
func (e *Engine) AssetField() string {
	return e.assetField
}

// Execute runs one instruction to completion or rejects it with no effect.
//
// On success it returns the committed notification (seq and ID assigned).
// On rejection it returns a *TransitionError; store failures that are not
// a rejection are returned wrapped.
func (e *Engine) Execute(ctx context.Context, ins Instruction) (ir.Notification, error) {
	if ins.RequestID == "" {
		ins.RequestID = e.requestIDs.Generate()
	}

	n, err := e.execute(ctx, ins)
	if err != nil {
		e.logger.Warn("transition rejected",
			"transition", ins.Transition,
			"caller", ins.Caller,
			"request_id", ins.RequestID,
			"code", CodeOf(err),
			"error", err,
		)
		return ir.Notification{}, err
	}

	e.logger.Info("transition committed",
		"transition", ins.Transition,
		"caller", ins.Caller,
		"request_id", ins.RequestID,
		"seq", n.Seq,
		"event", n.Name,
	)
	for _, nt := range e.notifiers {
		nt.Notify(ctx, n)
	}
	return n, nil
}

func (e *Engine) execute(ctx context.Context, ins Instruction) (ir.Notification, error) {
	if err := ins.validate(); err != nil {
		return ir.Notification{}, err
	}

	addrs, err := e.resolve(ctx, ins)
	if err != nil {
		return ir.Notification{}, err
	}

	decls := declarations[ins.Transition]
	leases := make([]lease, 0, len(decls))
	for _, d := range decls {
		leases = append(leases, lease{addr: addrs[d.role], mode: d.mode})
	}
	leases = mergeLeases(leases)

	if busy, ok := e.locks.acquireAll(leases); !ok {
		return ir.Notification{}, newError(CodeRecordBusy, ins.Transition, busy, "record is in use by another transition")
	}
	defer e.locks.releaseAll(leases)

	load := make([]ir.Address, len(leases))
	for i, c := range leases {
		load[i] = c.addr
	}
	loaded, err := e.store.Load(ctx, load)
	if err != nil {
		return ir.Notification{}, fmt.Errorf("%s: load records: %w", ins.Transition, err)
	}

	tx := &txn{
		engine: e,
		ins:    ins,
		addrs:  addrs,
		loaded: loaded,
	}
	if err := transitions[ins.Transition](tx); err != nil {
		return ir.Notification{}, err
	}

	n, err := e.store.Apply(ctx, store.Batch{
		Mutations: tx.mutations,
		Notification: ir.Notification{
			RequestID:  ins.RequestID,
			Namespace:  e.namespace,
			Transition: ins.Transition,
			Name:       tx.event,
			Caller:     ins.Caller,
			Payload:    tx.payload,
		},
	})
	if err != nil {
		return ir.Notification{}, storeError(ins.Transition, err)
	}
	return n, nil
}

// resolve returns the declared address of every role, either as supplied
// or derived from the instruction.
//
// A new sale's address depends on pool.period, so when it must be derived
// the pool is read once without a lock. The transition body re-checks the
// address against the locked pool and fails if the period moved.
func (e *Engine) resolve(ctx context.Context, ins Instruction) (map[Role]ir.Address, error) {
	if len(ins.Accounts) > 0 {
		addrs := make(map[Role]ir.Address, len(ins.Accounts))
		for role, addr := range ins.Accounts {
			addrs[role] = addr
		}
		return addrs, nil
	}

	var period uint64
	if ins.Transition == ir.TransitionRecordSale {
		pool, found, err := e.peekPool(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ins.Transition, err)
		}
		if found {
			period = pool.Period
		}
	}

	addrs := make(map[Role]ir.Address)
	for _, d := range declarations[ins.Transition] {
		addrs[d.role] = deriveAddress(e.namespace, ins, d.role, period)
	}
	return addrs, nil
}

func (e *Engine) peekPool(ctx context.Context) (ir.Pool, bool, error) {
	addr := ir.PoolAddress(e.namespace)
	recs, err := e.store.Load(ctx, []ir.Address{addr})
	if err != nil {
		return ir.Pool{}, false, fmt.Errorf("load pool: %w", err)
	}
	rec, ok := recs[addr]
	if !ok {
		return ir.Pool{}, false, nil
	}
	pool, err := ir.DecodeRecord[ir.Pool](rec.Body)
	if err != nil {
		return ir.Pool{}, false, err
	}
	return pool, true, nil
}

// storeError maps store sentinels onto transition codes.
// A version conflict means another writer (another process on the same
// database) committed first, which is contention, not corruption.
func storeError(t ir.Transition, err error) error {
	var code Code
	switch {
	case errors.Is(err, store.ErrExists):
		code = CodeAlreadyExists
	case errors.Is(err, store.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, store.ErrVersionConflict):
		code = CodeRecordBusy
	default:
		return fmt.Errorf("%s: %w", t, err)
	}
	return &TransitionError{
		Code:       code,
		Transition: t,
		Message:    "store rejected batch",
		Err:        err,
	}
}
