package engine

import (
	"fmt"

	"github.com/roach88/voltchain/internal/ir"
	"github.com/roach88/voltchain/internal/store"
)

// txn is the working set of one transition: the declared addresses, the
// records loaded for them, and the effects produced so far.
type txn struct {
	engine *Engine
	ins    Instruction
	addrs  map[Role]ir.Address
	loaded map[ir.Address]store.Record

	mutations []store.Mutation
	event     string
	payload   ir.Object
}

func (tx *txn) fail(code Code, role Role, format string, args ...any) error {
	return newError(code, tx.ins.Transition, tx.addrs[role], format, args...)
}

// expect checks that the declared address for role is the one the
// transition derives. A mismatch is reported as structural absence: the
// record the transition needs does not live where the caller pointed.
func (tx *txn) expect(role Role, derived ir.Address) error {
	if tx.addrs[role] != derived {
		return tx.fail(CodeNotFound, role, "declared %s address does not match derived address", role)
	}
	return nil
}

// absent fails with ALREADY_EXISTS if a record occupies role's address.
func (tx *txn) absent(role Role) error {
	if _, ok := tx.loaded[tx.addrs[role]]; ok {
		return tx.fail(CodeAlreadyExists, role, "%s already exists", role)
	}
	return nil
}

// loadAs decodes the record declared for role. Returns NOT_FOUND if the
// address is empty.
func loadAs[T ir.Record](tx *txn, role Role) (T, int64, error) {
	var zero T
	rec, ok := tx.loaded[tx.addrs[role]]
	if !ok {
		return zero, 0, tx.fail(CodeNotFound, role, "%s not found", role)
	}
	if rec.Kind != zero.Kind() {
		return zero, 0, tx.fail(CodeNotFound, role, "record is a %s, not a %s", rec.Kind, zero.Kind())
	}
	v, err := ir.DecodeRecord[T](rec.Body)
	if err != nil {
		return zero, 0, fmt.Errorf("%s: %w", tx.ins.Transition, err)
	}
	return v, rec.Version, nil
}

func (tx *txn) create(role Role, r ir.Record) error {
	return tx.put(role, r, 0)
}

func (tx *txn) update(role Role, r ir.Record, version int64) error {
	return tx.put(role, r, version)
}

func (tx *txn) put(role Role, r ir.Record, version int64) error {
	body, err := ir.EncodeRecord(r)
	if err != nil {
		return fmt.Errorf("%s: %w", tx.ins.Transition, err)
	}
	tx.mutations = append(tx.mutations, store.Mutation{
		Address:     tx.addrs[role],
		Namespace:   tx.engine.namespace,
		Kind:        r.Kind(),
		Body:        body,
		PrevVersion: version,
	})
	return nil
}

func (tx *txn) emit(event string, payload ir.Object) {
	tx.event = event
	tx.payload = payload
}

// namespace is shorthand for address derivation in transition bodies.
func (tx *txn) namespace() string {
	return tx.engine.namespace
}
