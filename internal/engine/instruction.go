package engine

import (
	"github.com/roach88/voltchain/internal/ir"
)

// Role names a record slot a transition declares.
type Role string

const (
	RolePool     Role = "pool"
	RolePosition Role = "position"
	RoleSale     Role = "sale"
	RoleClaim    Role = "claim"
)

// Instruction is one inbound call.
//
// Accounts is optional. When empty, the engine derives every declared
// address from Caller and Args. When set, it must name exactly the roles the
// transition declares, and each address must equal the derived one.
type Instruction struct {
	Transition ir.Transition       `yaml:"transition" json:"transition"`
	Caller     ir.Identity         `yaml:"caller" json:"caller"`
	Accounts   map[Role]ir.Address `yaml:"accounts,omitempty" json:"accounts,omitempty"`
	Args       Args                `yaml:"args,omitempty" json:"args,omitempty"`
	RequestID  string              `yaml:"request_id,omitempty" json:"request_id,omitempty"`
}

// Args carries the scalar arguments of every transition. Each transition
// reads only the fields it needs.
type Args struct {
	Authority       ir.Identity `yaml:"authority,omitempty" json:"authority,omitempty"`
	CreditMint      string      `yaml:"credit_mint,omitempty" json:"credit_mint,omitempty"`
	Delta           uint64      `yaml:"delta,omitempty" json:"delta,omitempty"`
	EnergySold      uint64      `yaml:"energy_sold,omitempty" json:"energy_sold,omitempty"`
	Revenue         uint64      `yaml:"revenue,omitempty" json:"revenue,omitempty"`
	FeeBps          uint16      `yaml:"fee_bps,omitempty" json:"fee_bps,omitempty"`
	SaleID          uint64      `yaml:"sale_id,omitempty" json:"sale_id,omitempty"`
	Amount          uint64      `yaml:"amount,omitempty" json:"amount,omitempty"`
	User            ir.Identity `yaml:"user,omitempty" json:"user,omitempty"`
	ClaimableAmount uint64      `yaml:"claimable_amount,omitempty" json:"claimable_amount,omitempty"`
}

// declaration is one record a transition touches.
type declaration struct {
	role Role
	mode accessMode
}

// declarations lists, per transition, the records it touches and how.
// A transition body may only read records named here.
var declarations = map[ir.Transition][]declaration{
	ir.TransitionInitializePool: {{RolePool, modeCreate}},
	ir.TransitionRegisterUser:   {{RolePosition, modeCreate}},
	ir.TransitionReportEnergy:   {{RolePool, modeWrite}, {RolePosition, modeWrite}},
	ir.TransitionRecordSale:     {{RolePool, modeWrite}, {RoleSale, modeCreate}},
	ir.TransitionBurnAndMark:    {{RolePool, modeRead}, {RolePosition, modeWrite}, {RoleClaim, modeCreate}},
	ir.TransitionFinalizeSale:   {{RolePool, modeRead}, {RoleSale, modeWrite}},
	ir.TransitionSettleClaim:    {{RolePool, modeRead}, {RoleSale, modeRead}, {RoleClaim, modeWrite}},
	ir.TransitionClaimPayout:    {{RoleClaim, modeWrite}},
}

// Declared returns the roles a transition declares, in declaration order.
func Declared(t ir.Transition) []Role {
	decls := declarations[t]
	roles := make([]Role, len(decls))
	for i, d := range decls {
		roles[i] = d.role
	}
	return roles
}

// deriveAddress computes the address a role must have for ins.
// period is the pool period used for a new sale's address.
func deriveAddress(namespace string, ins Instruction, role Role, period uint64) ir.Address {
	switch role {
	case RolePool:
		return ir.PoolAddress(namespace)
	case RolePosition:
		return ir.PositionAddress(namespace, ins.Caller)
	case RoleSale:
		if ins.Transition == ir.TransitionRecordSale {
			return ir.SaleAddress(namespace, period)
		}
		return ir.SaleAddress(namespace, ins.Args.SaleID)
	case RoleClaim:
		if ins.Transition == ir.TransitionSettleClaim {
			return ir.ClaimAddress(namespace, ins.Args.User, ins.Args.SaleID)
		}
		return ir.ClaimAddress(namespace, ins.Caller, ins.Args.SaleID)
	}
	return ""
}

// validate checks the shape of an instruction before any record is touched.
func (ins Instruction) validate() error {
	decls, ok := declarations[ins.Transition]
	if !ok {
		return newError(CodeInvalidArgument, ins.Transition, "", "unknown transition %q", ins.Transition)
	}
	if ins.Caller == "" {
		return newError(CodeInvalidArgument, ins.Transition, "", "missing caller identity")
	}
	switch ins.Transition {
	case ir.TransitionInitializePool:
		if ins.Args.Authority == "" {
			return newError(CodeInvalidArgument, ins.Transition, "", "missing authority")
		}
	case ir.TransitionSettleClaim:
		if ins.Args.User == "" {
			return newError(CodeInvalidArgument, ins.Transition, "", "missing claim user")
		}
	}
	if len(ins.Accounts) == 0 {
		return nil
	}
	declared := make(map[Role]bool, len(decls))
	for _, d := range decls {
		declared[d.role] = true
		if _, ok := ins.Accounts[d.role]; !ok {
			return newError(CodeInvalidArgument, ins.Transition, "", "accounts missing role %q", d.role)
		}
	}
	for role := range ins.Accounts {
		if !declared[role] {
			return newError(CodeInvalidArgument, ins.Transition, "", "role %q is not declared by %s", role, ins.Transition)
		}
	}
	return nil
}
