// Package ir provides the value model, record types and addressing scheme
// shared by every other voltchain package.
//
// This package contains type definitions and pure functions only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - amounts are uint64 micro-units or cents
//   - Record addresses are derived, never chosen: Address(namespace, kind, parts...)
//   - Canonical JSON (sorted keys, NFC strings, no whitespace) is the only
//     serialization used for hashing and for stored record bodies
//   - All JSON tags use snake_case
package ir
