// Package report renders engine results to the console: a compact one-line
// ping per live tick, and a full tablewriter summary for a finished
// backtest run. Adapted from the teacher's notify.Console (same compact vs.
// full-table split, same honest-summary closing block), generalized from
// reward-scanning opportunities to closed/cancelled trading signals.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/tripolskypetr/backtest-kit/internal/domain"
)

// Console prints TickResult streams to an io.Writer.
type Console struct {
	out io.Writer
}

// NewConsole creates a reporter writing to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter creates a reporter writing to w, for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// NotifyTick prints one compact line per result, meant to be wired as a
// live eventbus subscriber. Idle/Active results (the common case) get the
// terser treatment; a state transition gets its own line.
func (c *Console) NotifyTick(result domain.TickResult) {
	now := time.Now().Format("15:04:05")
	switch result.Kind {
	case domain.ResultIdle:
		fmt.Fprintf(c.out, "[%s] %s/%s idle @ %s\n", now, result.Symbol, result.StrategyName, priceLabel(result.CurrentPrice))
	case domain.ResultScheduled:
		fmt.Fprintf(c.out, "[%s] %s/%s scheduled %s entry=%s @ %s\n",
			now, result.Symbol, result.StrategyName, result.Signal.Position, priceLabel(result.Signal.PriceOpen), priceLabel(result.CurrentPrice))
	case domain.ResultOpened:
		fmt.Fprintf(c.out, "[%s] %s/%s OPENED %s @ %s tp=%s sl=%s\n",
			now, result.Symbol, result.StrategyName, result.Signal.Position,
			priceLabel(result.CurrentPrice), priceLabel(result.Signal.PriceTakeProfit), priceLabel(result.Signal.PriceStopLoss))
	case domain.ResultActive:
		fmt.Fprintf(c.out, "[%s] %s/%s active @ %s tp%%%.1f sl%%%.1f\n",
			now, result.Symbol, result.StrategyName, priceLabel(result.CurrentPrice), result.PercentTp, result.PercentSl)
	case domain.ResultClosed:
		fmt.Fprintf(c.out, "[%s] %s/%s CLOSED %s @ %s pnl=%.4f%%\n",
			now, result.Symbol, result.StrategyName, result.CloseReason, priceLabel(result.CurrentPrice), result.PnLPercentage)
	case domain.ResultCancelled:
		fmt.Fprintf(c.out, "[%s] %s/%s cancelled (%s)\n", now, result.Symbol, result.StrategyName, result.CancelReason)
	}
}

// PrintBacktestSummary renders the terminal results of a finished backtest
// run (only Closed/Cancelled results are ever yielded by the orchestrator)
// as a table plus an honest aggregate block.
func (c *Console) PrintBacktestSummary(results []domain.TickResult) {
	if len(results) == 0 {
		fmt.Fprintln(c.out, "\n  no closed or cancelled signals in this run")
		return
	}

	closed, cancelled := 0, 0
	for _, r := range results {
		if r.Kind == domain.ResultClosed {
			closed++
		} else {
			cancelled++
		}
	}
	fmt.Fprintf(c.out, "\n%d signals — %d closed, %d cancelled\n", len(results), closed, cancelled)

	c.printTable(results)
	c.printAggregate(results)
}

func (c *Console) printTable(results []domain.TickResult) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Symbol", "Position", "Outcome", "Close Price", "PnL %")

	for i, r := range results {
		outcome := string(r.CloseReason)
		if r.Kind == domain.ResultCancelled {
			outcome = "cancelled/" + string(r.CancelReason)
		}
		position := ""
		if r.Signal != nil {
			position = string(r.Signal.Position)
		}
		pnl := ""
		if r.Kind == domain.ResultClosed {
			pnl = fmt.Sprintf("%.4f", r.PnLPercentage)
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			r.Symbol,
			position,
			outcome,
			priceLabel(r.CurrentPrice),
			pnl,
		)
	}
	table.Render()
}

func (c *Console) printAggregate(results []domain.TickResult) {
	var wins, losses, totalPnL float64
	var closedCount int
	for _, r := range results {
		if r.Kind != domain.ResultClosed {
			continue
		}
		closedCount++
		totalPnL += r.PnLPercentage
		if r.PnLPercentage > 0 {
			wins++
		} else {
			losses++
		}
	}

	fmt.Fprintf(c.out, "\n%s\n", strings.Repeat("-", 40))
	if closedCount == 0 {
		fmt.Fprintln(c.out, "no closed signals to aggregate")
		return
	}

	winRate := wins / float64(closedCount) * 100
	fmt.Fprintf(c.out, "closed: %d  wins: %.0f  losses: %.0f  win rate: %.1f%%\n", closedCount, wins, losses, winRate)
	fmt.Fprintf(c.out, "total PnL: %.4f%%  avg PnL/signal: %.4f%%\n", totalPnL, totalPnL/float64(closedCount))
}

func priceLabel(price float64) string {
	return fmt.Sprintf("%.6f", price)
}
