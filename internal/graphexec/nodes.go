package graphexec

import (
	"fmt"
	"math/rand"

	"github.com/darwin-lab/strategy-evolution/pkg/domain"
	"github.com/darwin-lab/strategy-evolution/pkg/graph"
)

type inputFunc func(port string) (output, error)

// evalNode dispatches a single node to its type-specific evaluator and
// returns its named outputs. Every node type in the registry has exactly
// one case here; an unhandled NodeType is itself a programmer error in
// this build (registry and dispatcher have drifted), not a user-facing
// execution_error, so it panics and is caught by Run's recover.
func (e *Executor) evalNode(n graph.Node, spec graph.NodeSpec, frame *domain.BarFrame, in inputFunc, rng *rand.Rand) (map[string]output, error) {
	switch n.Type {
	case graph.NodeMarketData:
		return evalMarketData(n, frame)
	case graph.NodeSMA:
		return evalUnarySeries(n, in, "period", sma)
	case graph.NodeEMA:
		return evalUnarySeries(n, in, "period", ema)
	case graph.NodeRSI:
		return evalUnarySeries(n, in, "period", rsi)
	case graph.NodeATR:
		return evalATR(n, in)
	case graph.NodeConstant:
		return evalConstant(n)
	case graph.NodeCompare:
		return evalCompare(n, in)
	case graph.NodeEntrySignal:
		return evalEntrySignal(n, in)
	case graph.NodeExitSignal:
		return evalExitSignal(n, in)
	case graph.NodeStopLossFixed:
		return evalFixedOffset(n, "pct")
	case graph.NodeStopLossATR:
		return evalATROffset(n, in, frame)
	case graph.NodeTakeProfitFixed:
		return evalFixedOffset(n, "pct")
	case graph.NodeTakeProfitATR:
		return evalATROffset(n, in, frame)
	case graph.NodePositionSizeFixed:
		return evalFixedOffset(n, "notional")
	case graph.NodeBracketOrder:
		return evalBracketOrder(n, in, frame, e.config)
	case graph.NodeRiskManagerDaily:
		return evalRiskManagerDaily(n, in, frame)
	case graph.NodeSessionTimeFilter:
		return evalSessionTimeFilter(n, in, frame)
	default:
		panic(fmt.Sprintf("graphexec: no evaluator registered for node type %q", n.Type))
	}
}

func paramNum(n graph.Node, name string, def float64) float64 {
	v, ok := n.Params[name]
	if !ok || v.Kind != graph.ValueNumber {
		return def
	}
	return v.Num
}

func paramNumPresent(n graph.Node, name string) (float64, bool) {
	v, ok := n.Params[name]
	if !ok || v.Kind != graph.ValueNumber {
		return 0, false
	}
	return v.Num, true
}

func paramStr(n graph.Node, name, def string) string {
	v, ok := n.Params[name]
	if !ok || v.Kind != graph.ValueString {
		return def
	}
	return v.Str
}

func decimalColumn(bars []domain.Bar, pick func(domain.Bar) float64) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = pick(b)
	}
	return out
}

func evalMarketData(n graph.Node, frame *domain.BarFrame) (map[string]output, error) {
	bars := frame.Bars()
	return map[string]output{
		"open":   {series: decimalColumn(bars, func(b domain.Bar) float64 { return b.Open.InexactFloat64() })},
		"high":   {series: decimalColumn(bars, func(b domain.Bar) float64 { return b.High.InexactFloat64() })},
		"low":    {series: decimalColumn(bars, func(b domain.Bar) float64 { return b.Low.InexactFloat64() })},
		"close":  {series: decimalColumn(bars, func(b domain.Bar) float64 { return b.Close.InexactFloat64() })},
		"volume": {series: decimalColumn(bars, func(b domain.Bar) float64 { return b.Volume.InexactFloat64() })},
	}, nil
}

func evalUnarySeries(n graph.Node, in inputFunc, periodParam string, fn func([]float64, int) seriesValue) (map[string]output, error) {
	inVal, err := in("in")
	if err != nil {
		return nil, err
	}
	if inVal.series == nil {
		return nil, fmt.Errorf("node %s: input %q is not a series", n.ID, "in")
	}
	period := int(paramNum(n, periodParam, 1))
	return map[string]output{"out": {series: fn(inVal.series, period)}}, nil
}

func evalATR(n graph.Node, in inputFunc) (map[string]output, error) {
	high, err := in("high")
	if err != nil {
		return nil, err
	}
	low, err := in("low")
	if err != nil {
		return nil, err
	}
	close_, err := in("close")
	if err != nil {
		return nil, err
	}
	period := int(paramNum(n, "period", 1))
	return map[string]output{"out": {series: atr(high.series, low.series, close_.series, period)}}, nil
}

func evalConstant(n graph.Node) (map[string]output, error) {
	return map[string]output{"out": {scalar: scalarValue(paramNum(n, "value", 0))}}, nil
}

func evalCompare(n graph.Node, in inputFunc) (map[string]output, error) {
	lhs, err := in("lhs")
	if err != nil {
		return nil, err
	}
	rhs, err := in("rhs")
	if err != nil {
		return nil, err
	}
	op, ok := graph.CanonicalOp(paramStr(n, "op", ""))
	if !ok {
		return nil, fmt.Errorf("node %s: operator %q was never normalized to canonical form", n.ID, paramStr(n, "op", ""))
	}

	lseries, rseries, length := resolveOperands(lhs, rhs)
	if length == 0 {
		return nil, fmt.Errorf("node %s: compare operands carry no series data", n.ID)
	}

	var out boolSeriesValue
	switch op {
	case graph.OpCrossUp:
		out = crossUp(lseries, rseries)
	case graph.OpCrossDown:
		out = crossDown(lseries, rseries)
	default:
		out = elementwiseCompare(lseries, rseries, op)
	}
	return map[string]output{"out": {bools: out}}, nil
}

func resolveOperands(lhs, rhs output) (l, r seriesValue, length int) {
	switch {
	case lhs.series != nil:
		length = len(lhs.series)
	case rhs.series != nil:
		length = len(rhs.series)
	}
	if length == 0 {
		return nil, nil, 0
	}
	if lhs.series != nil {
		l = lhs.series
	} else {
		l = broadcastScalar(float64(lhs.scalar), length)
	}
	if rhs.series != nil {
		r = rhs.series
	} else {
		r = broadcastScalar(float64(rhs.scalar), length)
	}
	return l, r, length
}

func elementwiseCompare(lhs, rhs []float64, op graph.CompareOp) boolSeriesValue {
	out := make(boolSeriesValue, len(lhs))
	for i := range lhs {
		a, b := lhs[i], rhs[i]
		switch op {
		case graph.OpLT:
			out[i] = a < b
		case graph.OpLE:
			out[i] = a <= b
		case graph.OpGT:
			out[i] = a > b
		case graph.OpGE:
			out[i] = a >= b
		case graph.OpEQ:
			out[i] = a == b
		case graph.OpNE:
			out[i] = a != b
		}
	}
	return out
}

func evalEntrySignal(n graph.Node, in inputFunc) (map[string]output, error) {
	cond, err := in("condition")
	if err != nil {
		return nil, err
	}
	side := paramStr(n, "side", "buy")
	return map[string]output{"out": {signal: &signalValue{Side: side, Active: cond.bools}}}, nil
}

func evalExitSignal(n graph.Node, in inputFunc) (map[string]output, error) {
	cond, err := in("condition")
	if err != nil {
		return nil, err
	}
	return map[string]output{"out": {signal: &signalValue{Active: cond.bools}}}, nil
}

func evalFixedOffset(n graph.Node, paramName string) (map[string]output, error) {
	return map[string]output{"out": {scalar: scalarValue(paramNum(n, paramName, 0))}}, nil
}

// evalATROffset approximates a volatility-scaled fractional offset as a
// single scalar: the ATR/close ratio at the first bar the ATR warms up,
// times the configured multiple. Using the first valid ratio (rather
// than an average over the whole frame) keeps the computation causal —
// it never reads ahead of the bar the offset would first apply to.
func evalATROffset(n graph.Node, in inputFunc, frame *domain.BarFrame) (map[string]output, error) {
	atrVal, err := in("atr")
	if err != nil {
		return nil, err
	}
	bars := frame.Bars()
	multiple := paramNum(n, "multiple", 1)
	for i, a := range atrVal.series {
		if a != a { // NaN during warmup
			continue
		}
		close := bars[i].Close.InexactFloat64()
		if close == 0 {
			continue
		}
		return map[string]output{"out": {scalar: scalarValue((a / close) * multiple)}}, nil
	}
	return map[string]output{"out": {scalar: 0}}, nil
}

func evalSessionTimeFilter(n graph.Node, in inputFunc, frame *domain.BarFrame) (map[string]output, error) {
	inVal, err := in("in")
	if err != nil {
		return nil, err
	}
	startHour := int(paramNum(n, "start_hour", 0))
	endHour := int(paramNum(n, "end_hour", 24))
	out := make(boolSeriesValue, len(inVal.bools))
	for i, active := range inVal.bools {
		hour := frame.TimestampOf(i).Hour()
		inSession := hour >= startHour && hour < endHour
		out[i] = active && inSession
	}
	return map[string]output{"out": {bools: out}}, nil
}
