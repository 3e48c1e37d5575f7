package model

// PoolRecord is the durable metadata for one pool, keyed by its ledger
// account. Reserves are never persisted: the ledger balance is authoritative.
type PoolRecord struct {
	PoolAddress string `json:"pool_address"`
	TokenA      string `json:"token_a"`
	TokenB      string `json:"token_b"`
	Creator     string `json:"creator"`
}

// SharePosition is one LP share balance, keyed by pool and user. Shares is a
// base-10 unbounded integer; amounts owed are always recomputed from live
// reserves and are never stored.
type SharePosition struct {
	PoolAddress string `json:"pool_address"`
	User        string `json:"user"`
	Shares      string `json:"shares"`
}

// Swap saga states. A swap is a two-transaction protocol; the record
// persists which phase reached a terminal state so a crash between phases is
// detectable and resumable.
const (
	SwapStatePending         = "pending"
	SwapStatePhase1Confirmed = "phase1_confirmed"
	SwapStateCompleted       = "completed"
	SwapStateRefunded        = "refunded"
	SwapStateFailed          = "failed"
)

// SwapState is the persisted intermediate state of one two-phase swap.
// Amounts are base-10 unbounded integers in atomic units.
type SwapState struct {
	ID          string `json:"id"`
	PoolAddress string `json:"pool_address"`
	Initiator   string `json:"initiator"`
	TokenIn     string `json:"token_in"`
	TokenOut    string `json:"token_out"`
	AmountIn    string `json:"amount_in"`
	FeeAmount   string `json:"fee_amount"`
	AmountOut   string `json:"amount_out"`
	Phase1Ref   string `json:"phase1_ref,omitempty"`
	Phase2Ref   string `json:"phase2_ref,omitempty"`
	State       string `json:"state"`
	UpdatedAt   int64  `json:"updated_at"`
}
