package graphexec

import (
	"fmt"
	"sort"

	"github.com/darwin-lab/strategy-evolution/pkg/domain"
	"github.com/darwin-lab/strategy-evolution/pkg/graph"
)

// evalBracketOrder runs the bar-by-bar order simulator: on each entry
// signal while flat, it opens a position at the next bar's open (never
// the signal bar's own close, to stay causal), then walks forward until
// the stop, the target, an exit signal, or the end of the frame closes
// it. Only one position is open at a time, per spec §4.1's bracket-order
// semantics.
func evalBracketOrder(n graph.Node, in inputFunc, frame *domain.BarFrame, cfg Config) (map[string]output, error) {
	entry, err := in("entry")
	if err != nil {
		return nil, err
	}
	if entry.signal == nil {
		return nil, fmt.Errorf("node %s: entry input is not a signal", n.ID)
	}
	var exit *signalValue
	if exitOut, err := in("exit"); err == nil {
		exit = exitOut.signal
	}
	stopOut, err := in("stop")
	if err != nil {
		return nil, err
	}
	targetOut, err := in("target")
	if err != nil {
		return nil, err
	}
	sizeOut, err := in("size")
	if err != nil {
		return nil, err
	}

	bars := frame.Bars()
	n_ := len(bars)
	stopFrac := float64(stopOut.scalar)
	targetFrac := float64(targetOut.scalar)
	size := float64(sizeOut.scalar)

	var trades []SimulatedTrade
	inPosition := false
	var side string
	var entryPrice, stopPrice, targetPrice float64
	var entryIdx int

	for i := 0; i < n_; i++ {
		if !inPosition {
			if i+1 >= n_ {
				break
			}
			if i >= len(entry.signal.Active) || !entry.signal.Active[i] {
				continue
			}
			side = entry.signal.Side
			entryIdx = i + 1
			entryPrice = bars[entryIdx].Open.InexactFloat64()
			if side == "sell" || side == "short" {
				stopPrice = entryPrice * (1 + stopFrac)
				targetPrice = entryPrice * (1 - targetFrac)
			} else {
				stopPrice = entryPrice * (1 - stopFrac)
				targetPrice = entryPrice * (1 + targetFrac)
			}
			inPosition = true
			i = entryIdx - 1 // resume loop at entryIdx
			continue
		}

		low := bars[i].Low.InexactFloat64()
		high := bars[i].High.InexactFloat64()
		closePrice := bars[i].Close.InexactFloat64()

		short := side == "sell" || side == "short"
		hitStop := (!short && low <= stopPrice) || (short && high >= stopPrice)
		hitTarget := (!short && high >= targetPrice) || (short && low <= targetPrice)
		signalExit := exit != nil && i < len(exit.Active) && exit.Active[i]

		var closed bool
		var exitPrice float64
		var reason string
		switch {
		case hitStop:
			exitPrice, reason, closed = stopPrice, "stop", true
		case hitTarget:
			exitPrice, reason, closed = targetPrice, "target", true
		case signalExit:
			exitPrice, reason, closed = closePrice, "exit_signal", true
		case i == n_-1:
			exitPrice, reason, closed = closePrice, "end_of_frame", true
		}
		if !closed {
			continue
		}

		pnl := (exitPrice - entryPrice) * size
		if short {
			pnl = (entryPrice - exitPrice) * size
		}
		notional := entryPrice * size
		commission := notional * cfg.Commission * 2
		slippage := notional * (cfg.SlippageBps / 10000) * 2
		pnl -= commission + slippage

		trades = append(trades, SimulatedTrade{
			EntryIndex: entryIdx,
			ExitIndex:  i,
			Side:       side,
			EntryPrice: entryPrice,
			ExitPrice:  exitPrice,
			PnL:        pnl,
			ExitReason: reason,
		})
		inPosition = false
	}

	ob := &orderBatchValue{Trades: trades, Equity: buildEquityCurve(trades, n_)}
	return map[string]output{"out": {orders: ob}}, nil
}

// buildEquityCurve reduces a trade list to a per-bar cumulative-PnL
// curve: flat between trades, stepping at each trade's exit bar. This is
// a deliberate simplification over true mark-to-market equity — it is
// enough to compute total return and max drawdown from closed trades,
// which is all spec §4.1's fitness formula needs.
func buildEquityCurve(trades []SimulatedTrade, length int) []float64 {
	curve := make([]float64, length)
	ordered := make([]SimulatedTrade, len(trades))
	copy(ordered, trades)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ExitIndex < ordered[j].ExitIndex })

	var cum float64
	ti := 0
	for i := 0; i < length; i++ {
		for ti < len(ordered) && ordered[ti].ExitIndex == i {
			cum += ordered[ti].PnL
			ti++
		}
		curve[i] = cum
	}
	return curve
}

// evalRiskManagerDaily filters an order batch for three optional daily
// limits. Each limit is active only when its param is present — absent
// means disabled, per spec §3's RiskManagerDaily invariant — and
// "daily" groups trades by the calendar date of their entry bar.
func evalRiskManagerDaily(n graph.Node, in inputFunc, frame *domain.BarFrame) (map[string]output, error) {
	ordersOut, err := in("orders")
	if err != nil {
		return nil, err
	}
	if ordersOut.orders == nil {
		return nil, fmt.Errorf("node %s: orders input is not an order batch", n.ID)
	}
	maxTrades, hasMaxTrades := paramNumPresent(n, "max_trades")
	maxLossPct, hasMaxLoss := paramNumPresent(n, "max_loss_pct")
	maxProfitPct, hasMaxProfit := paramNumPresent(n, "max_profit_pct")

	if !hasMaxTrades && !hasMaxLoss && !hasMaxProfit {
		return map[string]output{"out": {orders: ordersOut.orders}}, nil
	}

	type dayState struct {
		trades   int
		lossPct  float64
		profitPct float64
	}
	days := make(map[string]*dayState)

	var kept []SimulatedTrade
	for _, t := range ordersOut.orders.Trades {
		day := frame.TimestampOf(t.EntryIndex).Format("2006-01-02")
		st, ok := days[day]
		if !ok {
			st = &dayState{}
			days[day] = st
		}

		if hasMaxTrades && float64(st.trades) >= maxTrades {
			continue
		}
		if hasMaxLoss && st.lossPct >= maxLossPct {
			continue
		}
		if hasMaxProfit && st.profitPct >= maxProfitPct {
			continue
		}

		kept = append(kept, t)
		st.trades++
		if t.EntryPrice != 0 {
			retPct := t.PnL / (t.EntryPrice)
			if retPct < 0 {
				st.lossPct += -retPct
			} else {
				st.profitPct += retPct
			}
		}
	}

	ob := &orderBatchValue{Trades: kept, Equity: buildEquityCurve(kept, len(ordersOut.orders.Equity))}
	return map[string]output{"out": {orders: ob}}, nil
}
