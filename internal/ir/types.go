package ir

import (
	"encoding/json"
	"fmt"
)

// Identity is an authenticated caller identity (for example a base58 public key).
// Authentication happens before an instruction reaches the engine.
type Identity string

// Kind names a record kind. Kinds are part of every address seed.
type Kind string

const (
	KindPool         Kind = "pool"
	KindUserPosition Kind = "user_position"
	KindSale         Kind = "sale"
	KindUserClaim    Kind = "user_claim"
)

// Record is implemented by the four ledger record types.
type Record interface {
	Kind() Kind
	ToObject() Object
}

// Pool is the singleton aggregate of a namespace.
type Pool struct {
	Authority   Identity `json:"authority"`
	CreditMint  string   `json:"credit_mint"`
	TotalEnergy uint64   `json:"total_energy"` // micro-kWh, non-decreasing
	Period      uint64   `json:"period"`       // next sale id
}

func (Pool) Kind() Kind { return KindPool }

func (p Pool) ToObject() Object {
	return Object{
		"authority":    String(p.Authority),
		"credit_mint":  String(p.CreditMint),
		"total_energy": Uint(p.TotalEnergy),
		"period":       Uint(p.Period),
	}
}

// UserPosition is a producer's balance.
type UserPosition struct {
	Owner    Identity `json:"owner"`
	Accrued  uint64   `json:"accrued"`  // spendable micro-kWh
	Lifetime uint64   `json:"lifetime"` // micro-kWh ever reported
}

func (UserPosition) Kind() Kind { return KindUserPosition }

func (u UserPosition) ToObject() Object {
	return Object{
		"owner":    String(u.Owner),
		"accrued":  Uint(u.Accrued),
		"lifetime": Uint(u.Lifetime),
	}
}

// Sale holds the commercial terms of one period.
type Sale struct {
	ID         uint64 `json:"id"`
	EnergySold uint64 `json:"energy_sold"` // micro-kWh
	Revenue    uint64 `json:"revenue"`     // BRL cents
	FeeBps     uint16 `json:"fee_bps"`
	Finalized  bool   `json:"finalized"`
}

func (Sale) Kind() Kind { return KindSale }

func (s Sale) ToObject() Object {
	return Object{
		"id":          Uint(s.ID),
		"energy_sold": Uint(s.EnergySold),
		"revenue":     Uint(s.Revenue),
		"fee_bps":     Uint(s.FeeBps),
		"finalized":   Bool(s.Finalized),
	}
}

// UserClaim records a redemption of one user against one sale.
type UserClaim struct {
	User            Identity `json:"user"`
	SaleID          uint64   `json:"sale_id"`
	ClaimableAmount uint64   `json:"claimable_amount"` // BRL cents, written by settlement
	BurnedAmount    uint64   `json:"burned_amount"`    // micro-kWh
	Claimed         bool     `json:"claimed"`
}

func (UserClaim) Kind() Kind { return KindUserClaim }

func (c UserClaim) ToObject() Object {
	return Object{
		"user":             String(c.User),
		"sale_id":          Uint(c.SaleID),
		"claimable_amount": Uint(c.ClaimableAmount),
		"burned_amount":    Uint(c.BurnedAmount),
		"claimed":          Bool(c.Claimed),
	}
}

// EncodeRecord returns the canonical body stored for a record.
func EncodeRecord(r Record) ([]byte, error) {
	body, err := MarshalCanonical(r.ToObject())
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.Kind(), err)
	}
	return body, nil
}

// DecodeRecord parses a stored body into the record type T.
func DecodeRecord[T Record](body []byte) (T, error) {
	var r T
	if err := json.Unmarshal(body, &r); err != nil {
		return r, fmt.Errorf("decode %s: %w", r.Kind(), err)
	}
	return r, nil
}
