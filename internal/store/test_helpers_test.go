package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/voltchain/internal/ir"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestPool builds a pool-creation mutation for the given namespace.
func createTestPool(t *testing.T, namespace string, authority ir.Identity) Mutation {
	t.Helper()
	body, err := ir.EncodeRecord(ir.Pool{Authority: authority, CreditMint: "mint"})
	if err != nil {
		t.Fatalf("EncodeRecord() failed: %v", err)
	}
	return Mutation{
		Address:   ir.PoolAddress(namespace),
		Namespace: namespace,
		Kind:      ir.KindPool,
		Body:      body,
	}
}

// createTestNotification creates a notification with minimal required fields.
func createTestNotification(namespace, name string) ir.Notification {
	return ir.Notification{
		RequestID:  "req-1",
		Namespace:  namespace,
		Transition: ir.TransitionInitializePool,
		Name:       name,
		Caller:     "payer",
		Payload:    ir.Object{},
	}
}
