// Package engine implements the voltchain settlement ledger transitions.
//
// The engine is the only writer of records. A caller invokes a transition
// through Execute (or one of the typed helpers); the engine resolves the
// records the transition declares, checks ownership and authority, applies
// checked arithmetic and commits the result as one atomic batch together
// with the notification describing it.
//
// ARCHITECTURE:
//
// Declared Access:
// Every transition declares up front which records it touches and how
// (read, write or create). Declarations come from Instruction.Accounts or
// are derived from the caller and arguments. Nothing outside the declared
// set is ever loaded.
//
// Per-Record Locks:
// Before loading, the engine claims every declared address in a lock table.
// Writes and creations are exclusive, reads are shared. A conflicting claim
// fails immediately with RECORD_BUSY; nothing blocks and there is no global
// lock, so transitions over disjoint records run in parallel.
//
// Execution Flow:
// 1. Validate the instruction and resolve declared addresses
// 2. Claim locks for the declared set
// 3. Load the declared records
// 4. Run the transition body, producing mutations and one notification
// 5. Apply the batch atomically (version checked per record)
// 6. Release locks, then deliver the notification to registered Notifiers
//
// Any failure before step 5 commits returns a *TransitionError and leaves
// the store untouched.
//
// Trust boundary: reported energy is not validated. Producers are trusted
// or externally audited.
package engine
