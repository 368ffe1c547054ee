package graph_test

import (
	"testing"

	"github.com/darwin-lab/strategy-evolution/pkg/graph"
)

func sampleGraph() *graph.StrategyGraph {
	return &graph.StrategyGraph{
		GraphID: "g1",
		Nodes: []graph.Node{
			{ID: "md", Type: graph.NodeMarketData, Params: map[string]graph.Value{"symbol": graph.StringValue("AAPL")}},
			{ID: "rsi", Type: graph.NodeRSI, Params: map[string]graph.Value{"period": graph.NumberValue(14)},
				Inputs: map[string]graph.PortRef{"in": {NodeID: "md", Output: "close"}}},
			{ID: "thresh", Type: graph.NodeConstant, Params: map[string]graph.Value{"value": graph.NumberValue(30)}},
			{ID: "cmp", Type: graph.NodeCompare, Params: map[string]graph.Value{"op": graph.StringValue("<")},
				Inputs: map[string]graph.PortRef{"lhs": {NodeID: "rsi", Output: "out"}, "rhs": {NodeID: "thresh", Output: "out"}}},
			{ID: "entry", Type: graph.NodeEntrySignal, Params: map[string]graph.Value{"side": graph.StringValue("buy")},
				Inputs: map[string]graph.PortRef{"condition": {NodeID: "cmp", Output: "out"}}},
			{ID: "size", Type: graph.NodePositionSizeFixed, Params: map[string]graph.Value{"notional": graph.NumberValue(1000)}},
			{ID: "bracket", Type: graph.NodeBracketOrder,
				Inputs: map[string]graph.PortRef{"entry": {NodeID: "entry", Output: "out"}, "size": {NodeID: "size", Output: "out"}}},
		},
	}
}

func TestValidate_AcceptsWellFormedGraph(t *testing.T) {
	reg := graph.DefaultRegistry()
	g := sampleGraph()
	errs := graph.Validate(g, reg)
	for _, e := range errs {
		t.Errorf("unexpected violation: %v", e)
	}
}

func TestValidate_DetectsCycle(t *testing.T) {
	reg := graph.DefaultRegistry()
	g := &graph.StrategyGraph{Nodes: []graph.Node{
		{ID: "a", Type: graph.NodeSMA, Params: map[string]graph.Value{"period": graph.NumberValue(5)},
			Inputs: map[string]graph.PortRef{"in": {NodeID: "b", Output: "out"}}},
		{ID: "b", Type: graph.NodeSMA, Params: map[string]graph.Value{"period": graph.NumberValue(5)},
			Inputs: map[string]graph.PortRef{"in": {NodeID: "a", Output: "out"}}},
	}}
	errs := graph.Validate(g, reg)
	found := false
	for _, e := range errs {
		if e.Invariant == "I1" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected I1 cycle violation, got none")
	}
}

func TestValidate_DetectsUnresolvedInput(t *testing.T) {
	reg := graph.DefaultRegistry()
	g := &graph.StrategyGraph{Nodes: []graph.Node{
		{ID: "a", Type: graph.NodeSMA, Params: map[string]graph.Value{"period": graph.NumberValue(5)},
			Inputs: map[string]graph.PortRef{"in": {NodeID: "missing", Output: "out"}}},
	}}
	errs := graph.Validate(g, reg)
	found := false
	for _, e := range errs {
		if e.Invariant == "I2" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected I2 violation for unresolved input, got none")
	}
}

func TestValidate_RequiresMarketDataAndTerminal(t *testing.T) {
	reg := graph.DefaultRegistry()
	g := &graph.StrategyGraph{Nodes: []graph.Node{
		{ID: "c", Type: graph.NodeConstant, Params: map[string]graph.Value{"value": graph.NumberValue(1)}},
	}}
	errs := graph.Validate(g, reg)
	i4 := 0
	for _, e := range errs {
		if e.Invariant == "I4" {
			i4++
		}
	}
	if i4 != 2 {
		t.Fatalf("expected 2 I4 violations (no MarketData, no terminal), got %d", i4)
	}
}

func TestValidate_RejectsUnnormalizedOperator(t *testing.T) {
	reg := graph.DefaultRegistry()
	g := &graph.StrategyGraph{Nodes: []graph.Node{
		{ID: "cmp", Type: graph.NodeCompare, Params: map[string]graph.Value{"op": graph.StringValue("lt")}},
	}}
	errs := graph.Validate(g, reg)
	found := false
	for _, e := range errs {
		if e.Invariant == "I5" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected I5 violation for textual operator synonym, got none")
	}
}

func TestTopoOrder_IsDeterministicAndRespectsEdges(t *testing.T) {
	g := sampleGraph()
	order := graph.TopoOrder(g)
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if pos["md"] > pos["rsi"] {
		t.Fatal("md must precede rsi in topological order")
	}
	if pos["rsi"] > pos["cmp"] {
		t.Fatal("rsi must precede cmp in topological order")
	}
	if pos["cmp"] > pos["entry"] {
		t.Fatal("cmp must precede entry in topological order")
	}
	if pos["entry"] > pos["bracket"] {
		t.Fatal("entry must precede bracket in topological order")
	}
}
