package domain

// ResultKind tags the variant of a TickResult, the result type of both
// Tick and Backtest (spec §6.1).
type ResultKind string

const (
	ResultIdle      ResultKind = "idle"
	ResultScheduled ResultKind = "scheduled"
	ResultOpened    ResultKind = "opened"
	ResultActive    ResultKind = "active"
	ResultClosed    ResultKind = "closed"
	ResultCancelled ResultKind = "cancelled"
)

// CloseReason tags why a pending signal closed.
type CloseReason string

const (
	CloseTakeProfit  CloseReason = "take_profit"
	CloseStopLoss    CloseReason = "stop_loss"
	CloseTimeExpired CloseReason = "time_expired"
)

// CancelReason tags why a scheduled signal was cancelled.
type CancelReason string

const (
	CancelTimeout     CancelReason = "timeout"
	CancelPriceReject CancelReason = "price_reject"
	CancelUser        CancelReason = "user"
)

// TickResult is the tagged result of one tick/backtest step (spec §6.1).
// Only the fields relevant to Kind are populated; see the Result* constants.
type TickResult struct {
	Kind ResultKind

	Symbol       string
	StrategyName string
	ExchangeName string
	FrameName    string
	Backtest     bool

	CurrentPrice float64

	Signal *PublicSignal // nil for Idle

	// Active only.
	PercentTp float64
	PercentSl float64

	// Closed only.
	CloseReason    CloseReason
	CloseTimestamp int64
	PnLPercentage  float64

	// Cancelled only.
	CancelReason    CancelReason
	CancelTimestamp int64
	CancelID        string
}

// IsTerminal reports whether the result ends a signal's lifecycle
// (the only two variants a backtest fast-forward yields).
func (r TickResult) IsTerminal() bool {
	return r.Kind == ResultClosed || r.Kind == ResultCancelled
}
