package domain

import "github.com/google/uuid"

// Position is the direction of a signal.
type Position string

const (
	Long  Position = "long"
	Short Position = "short"
)

// PartialKind distinguishes the two kinds of partial-close ledger entries.
type PartialKind string

const (
	PartialProfit PartialKind = "profit"
	PartialLoss   PartialKind = "loss"
)

// PartialEntry is one row of a signal's partial-close ledger (spec §3.1).
type PartialEntry struct {
	Kind    PartialKind
	Percent float64 // in (0, 100]
	Price   float64
}

// SignalDTO is the proposal a user-supplied getSignal callback returns.
// PriceOpen is nil for an immediate signal (enters at current VWAP) and
// set for a scheduled signal (waits for price to reach it).
type SignalDTO struct {
	Position            Position
	PriceTakeProfit      float64
	PriceStopLoss        float64
	MinuteEstimatedTime  int
	PriceOpen            *float64
	ID                   string
	Note                 string
}

// IsScheduled reports whether the DTO describes a scheduled (vs immediate) signal.
func (d SignalDTO) IsScheduled() bool {
	return d.PriceOpen != nil
}

// SignalRow is the canonical internal record admitted from a DTO (spec §3.1).
// Fields prefixed with an underscore in the spec (internal-only, hidden from
// the public view) are unexported-by-convention here via the Trailing*
// pointer fields and the Partial ledger; PublicSignal hides the Trailing*
// fields and carries a copy of the Partial ledger.
type SignalRow struct {
	ID                  string
	Symbol              string
	ExchangeName        string
	StrategyName        string
	FrameName           string // empty in live mode

	Position            Position
	PriceOpen           float64 // always populated: DTO value (scheduled) or VWAP at admission (immediate)
	PriceTakeProfit     float64 // original, as admitted
	PriceStopLoss       float64 // original, as admitted
	MinuteEstimatedTime int
	Note                string

	ScheduledAt int64 // ms, when admitted
	PendingAt   int64 // ms, when activated; == ScheduledAt for immediate signals

	IsScheduled bool

	Partial []PartialEntry

	TrailingPriceStopLoss   *float64
	TrailingPriceTakeProfit *float64

	// Exported so they survive the JSON round-trip through persist.Store;
	// access them via the accessor methods below, not directly.
	TrailSLDirection TrailDirection // unset until first trailingStop call
	TrailTPDirection TrailDirection
	BreakevenDone    bool
}

// TrailDirection locks a trailing stop/take to the direction its first
// shift established (spec §4.4, §8 S4): once tightened, only further
// tightening is accepted, and vice versa.
type TrailDirection int

const (
	DirUnset TrailDirection = iota
	DirTighten
	DirLoosen
)

// TrailingSLDirection reports the direction the trailing stop-loss has
// been locked to, or DirUnset if trailingStop has never been applied.
func (s SignalRow) TrailingSLDirection() TrailDirection { return s.TrailSLDirection }

// SetTrailingSLDirection locks the trailing stop-loss direction.
func (s *SignalRow) SetTrailingSLDirection(d TrailDirection) { s.TrailSLDirection = d }

// TrailingTPDirection reports the direction the trailing take-profit has
// been locked to, or DirUnset if trailingTake has never been applied.
func (s SignalRow) TrailingTPDirection() TrailDirection { return s.TrailTPDirection }

// SetTrailingTPDirection locks the trailing take-profit direction.
func (s *SignalRow) SetTrailingTPDirection(d TrailDirection) { s.TrailTPDirection = d }

// BreakevenAchieved reports whether this signal's stop-loss has already
// been promoted to break-even.
func (s SignalRow) BreakevenAchieved() bool { return s.BreakevenDone }

// SetBreakevenAchieved marks the break-even promotion as applied.
func (s *SignalRow) SetBreakevenAchieved(v bool) { s.BreakevenDone = v }

// NewSignalID returns a fresh opaque identifier for a signal whose DTO
// omitted one.
func NewSignalID() string {
	return uuid.NewString()
}

// EffectiveStopLoss returns the trailing stop-loss if one has been set,
// otherwise the original.
func (s SignalRow) EffectiveStopLoss() float64 {
	if s.TrailingPriceStopLoss != nil {
		return *s.TrailingPriceStopLoss
	}
	return s.PriceStopLoss
}

// EffectiveTakeProfit returns the trailing take-profit if one has been set,
// otherwise the original.
func (s SignalRow) EffectiveTakeProfit() float64 {
	if s.TrailingPriceTakeProfit != nil {
		return *s.TrailingPriceTakeProfit
	}
	return s.PriceTakeProfit
}

// PartialPercentClosed sums the percents already recorded in the ledger.
func (s SignalRow) PartialPercentClosed() float64 {
	var total float64
	for _, p := range s.Partial {
		total += p.Percent
	}
	return total
}

// PublicSignal is the sanitized view exposed on every event (spec §6.1):
// trailing fields are hidden, effective SL/TP are shown as PriceStopLoss /
// PriceTakeProfit, and the admission values are exposed separately.
type PublicSignal struct {
	ID                      string
	Symbol                  string
	ExchangeName            string
	StrategyName            string
	FrameName               string
	Position                Position
	PriceOpen               float64
	PriceTakeProfit         float64 // effective
	PriceStopLoss           float64 // effective
	OriginalPriceTakeProfit float64
	OriginalPriceStopLoss   float64
	MinuteEstimatedTime     int
	Note                    string
	ScheduledAt             int64
	PendingAt               int64
	IsScheduled             bool
	Partial                 []PartialEntry
}

// ToPublic builds the sanitized view of a row.
func (s SignalRow) ToPublic() PublicSignal {
	partial := make([]PartialEntry, len(s.Partial))
	copy(partial, s.Partial)
	return PublicSignal{
		ID:                      s.ID,
		Symbol:                  s.Symbol,
		ExchangeName:            s.ExchangeName,
		StrategyName:            s.StrategyName,
		FrameName:               s.FrameName,
		Position:                s.Position,
		PriceOpen:               s.PriceOpen,
		PriceTakeProfit:         s.EffectiveTakeProfit(),
		PriceStopLoss:           s.EffectiveStopLoss(),
		OriginalPriceTakeProfit: s.PriceTakeProfit,
		OriginalPriceStopLoss:   s.PriceStopLoss,
		MinuteEstimatedTime:     s.MinuteEstimatedTime,
		Note:                    s.Note,
		ScheduledAt:             s.ScheduledAt,
		PendingAt:               s.PendingAt,
		IsScheduled:             s.IsScheduled,
		Partial:                 partial,
	}
}
