package graph_test

import (
	"testing"

	"github.com/darwin-lab/strategy-evolution/pkg/graph"
)

func TestNormalize_RewritesOperatorSynonym(t *testing.T) {
	reg := graph.DefaultRegistry()
	g := &graph.StrategyGraph{Nodes: []graph.Node{
		{ID: "cmp", Type: graph.NodeCompare, Params: map[string]graph.Value{"op": graph.StringValue("lt")}},
	}}
	graph.Normalize(g, reg)
	n, _ := g.NodeByID("cmp")
	if n.Params["op"].Str != string(graph.OpLT) {
		t.Fatalf("expected op rewritten to %q, got %q", graph.OpLT, n.Params["op"].Str)
	}
}

func TestNormalize_RewritesNodeTypeCase(t *testing.T) {
	reg := graph.DefaultRegistry()
	g := &graph.StrategyGraph{Nodes: []graph.Node{
		{ID: "rsi", Type: graph.NodeType("rsi"), Params: map[string]graph.Value{"period": graph.NumberValue(14)}},
	}}
	graph.Normalize(g, reg)
	n, _ := g.NodeByID("rsi")
	if n.Type != graph.NodeRSI {
		t.Fatalf("expected node type rewritten to %q, got %q", graph.NodeRSI, n.Type)
	}
}

func TestNormalize_InjectsDefaultParams(t *testing.T) {
	reg := graph.NewRegistry()
	defaultVal := graph.NumberValue(0)
	reg.Register(graph.NodeSpec{
		Type:   "Widget",
		Params: []graph.ParamSpec{{Name: "threshold", Kind: graph.ValueNumber, Default: &defaultVal}},
	})
	g := &graph.StrategyGraph{Nodes: []graph.Node{{ID: "w", Type: "Widget"}}}
	graph.Normalize(g, reg)
	n, _ := g.NodeByID("w")
	if _, ok := n.Params["threshold"]; !ok {
		t.Fatal("expected default param injected")
	}
}

func TestNormalize_LeavesAbsentRiskLimitsDisabled(t *testing.T) {
	reg := graph.DefaultRegistry()
	g := &graph.StrategyGraph{Nodes: []graph.Node{
		{ID: "risk", Type: graph.NodeRiskManagerDaily, Params: map[string]graph.Value{
			"max_loss_pct": graph.NumberValue(0.02),
		}},
	}}
	graph.Normalize(g, reg)
	n, _ := g.NodeByID("risk")
	if _, ok := n.Params["max_profit_pct"]; ok {
		t.Fatal("max_profit_pct should remain absent (disabled), not defaulted")
	}
	if _, ok := n.Params["max_trades"]; ok {
		t.Fatal("max_trades should remain absent (disabled), not defaulted")
	}
}
