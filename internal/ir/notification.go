package ir

// Transition names an engine transition.
type Transition string

const (
	TransitionInitializePool Transition = "initialize_pool"
	TransitionRegisterUser   Transition = "register_user"
	TransitionReportEnergy   Transition = "report_energy"
	TransitionRecordSale     Transition = "record_sale"
	TransitionBurnAndMark    Transition = "burn_and_mark"
	TransitionFinalizeSale   Transition = "finalize_sale"
	TransitionSettleClaim    Transition = "settle_claim"
	TransitionClaimPayout    Transition = "claim_payout"
)

// Transitions lists every transition in declaration order.
var Transitions = []Transition{
	TransitionInitializePool,
	TransitionRegisterUser,
	TransitionReportEnergy,
	TransitionRecordSale,
	TransitionBurnAndMark,
	TransitionFinalizeSale,
	TransitionSettleClaim,
	TransitionClaimPayout,
}

// Event names carried by notifications.
const (
	EventPoolInitialized = "PoolInitialized"
	EventUserRegistered  = "UserRegistered"
	EventEnergyReported  = "EnergyReported"
	EventSaleRecorded    = "SaleRecorded"
	EventTokensBurned    = "TokensBurned"
	EventSaleFinalized   = "SaleFinalized"
	EventClaimSettled    = "ClaimSettled"
	EventPayoutClaimed   = "PayoutClaimed"
)

// Notification is the structured record emitted by one successful transition.
// Observers consume notifications; the engine never reads them back.
type Notification struct {
	Seq        int64      `json:"seq"`        // assigned by the store at commit
	ID         string     `json:"id"`         // content hash, see NotificationID
	RequestID  string     `json:"request_id"` // caller-side correlation token
	Namespace  string     `json:"namespace"`
	Transition Transition `json:"transition"`
	Name       string     `json:"name"`
	Caller     Identity   `json:"caller"`
	Payload    Object     `json:"payload"`
}

func (n Notification) hashObject() Object {
	payload := n.Payload
	if payload == nil {
		payload = Object{}
	}
	return Object{
		"seq":        Uint(n.Seq),
		"request_id": String(n.RequestID),
		"namespace":  String(n.Namespace),
		"transition": String(n.Transition),
		"name":       String(n.Name),
		"caller":     String(n.Caller),
		"payload":    payload,
	}
}
