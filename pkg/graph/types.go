// Package graph defines the typed strategy dataflow DAG: nodes, ports,
// params, and the invariants a graph must satisfy before it can be
// executed or persisted.
package graph

import (
	"time"
)

// NodeType identifies a node's behavior. The catalogue is a closed set;
// adding a kind means registering a new NodeSpec, never reflecting over
// arbitrary strings.
type NodeType string

const (
	NodeMarketData         NodeType = "MarketData"
	NodeSMA                NodeType = "SMA"
	NodeEMA                NodeType = "EMA"
	NodeRSI                NodeType = "RSI"
	NodeATR                NodeType = "ATR"
	NodeConstant           NodeType = "Constant"
	NodeCompare            NodeType = "Compare"
	NodeEntrySignal        NodeType = "EntrySignal"
	NodeExitSignal         NodeType = "ExitSignal"
	NodeStopLossFixed      NodeType = "StopLossFixed"
	NodeStopLossATR        NodeType = "StopLossATR"
	NodeTakeProfitFixed    NodeType = "TakeProfitFixed"
	NodeTakeProfitATR      NodeType = "TakeProfitATR"
	NodePositionSizeFixed  NodeType = "PositionSizingFixed"
	NodeBracketOrder       NodeType = "BracketOrder"
	NodeRiskManagerDaily   NodeType = "RiskManagerDaily"
	NodeSessionTimeFilter  NodeType = "SessionTimeFilter"
)

// OutputKind is the semantic type carried by a node's named output.
type OutputKind string

const (
	OutSeries     OutputKind = "series"
	OutBoolSeries OutputKind = "bool_series"
	OutSignal     OutputKind = "signal"
	OutOrderBatch OutputKind = "order_batch"
	OutScalar     OutputKind = "scalar"
)

// CompareOp is the closed set of canonical comparison symbols. spec §3
// invariant I5: textual synonyms are rewritten to these on ingress.
type CompareOp string

const (
	OpLT        CompareOp = "<"
	OpLE        CompareOp = "<="
	OpGT        CompareOp = ">"
	OpGE        CompareOp = ">="
	OpEQ        CompareOp = "=="
	OpNE        CompareOp = "!="
	OpCrossUp   CompareOp = "cross_up"
	OpCrossDown CompareOp = "cross_down"
)

// synonyms maps textual operator spellings (as an LLM or a human author
// might write them) to their canonical symbol. Rewriting happens once, on
// ingress, per spec §3 I5 and §4.6's normalization pipeline step 1.
var synonyms = map[string]CompareOp{
	"lt":              OpLT,
	"le":              OpLE,
	"lte":             OpLE,
	"gt":              OpGT,
	"ge":              OpGE,
	"gte":             OpGE,
	"eq":              OpEQ,
	"ne":              OpNE,
	"neq":             OpNE,
	"less_than":       OpLT,
	"less_or_equal":   OpLE,
	"greater_than":    OpGT,
	"greater_or_equal": OpGE,
	"equal":           OpEQ,
	"not_equal":       OpNE,
	"crosses_above":   OpCrossUp,
	"crosses_below":   OpCrossDown,
	"cross_above":     OpCrossUp,
	"cross_below":     OpCrossDown,
}

// CanonicalOp rewrites a textual or already-canonical operator spelling to
// its canonical symbol. Returns false if the spelling is unrecognized.
func CanonicalOp(raw string) (CompareOp, bool) {
	switch CompareOp(raw) {
	case OpLT, OpLE, OpGT, OpGE, OpEQ, OpNE, OpCrossUp, OpCrossDown:
		return CompareOp(raw), true
	}
	if op, ok := synonyms[raw]; ok {
		return op, true
	}
	return "", false
}

// Value is a param scalar: string, bool, or float64. Nodes interpret the
// Kind field of their own NodeSpec.Params to know what's expected;
// a param legitimately absent is represented by it being missing from the
// Node's Params map, not by a sentinel Value.
type Value struct {
	Kind   ValueKind
	Num    float64
	Str    string
	Bool   bool
}

// ValueKind tags the union discriminant carried by Value.
type ValueKind string

const (
	ValueNumber ValueKind = "number"
	ValueString ValueKind = "string"
	ValueBool   ValueKind = "bool"
)

// NumberValue constructs a numeric param Value.
func NumberValue(v float64) Value { return Value{Kind: ValueNumber, Num: v} }

// StringValue constructs a string param Value.
func StringValue(v string) Value { return Value{Kind: ValueString, Str: v} }

// BoolValue constructs a bool param Value.
func BoolValue(v bool) Value { return Value{Kind: ValueBool, Bool: v} }

// PortRef is a resolved or unresolved "<node_id>.<output_name>" reference.
type PortRef struct {
	NodeID string
	Output string
}

// Node is one vertex of the strategy graph.
type Node struct {
	ID     string             `json:"id"`
	Type   NodeType           `json:"type"`
	Params map[string]Value   `json:"params"`
	Inputs map[string]PortRef `json:"inputs"`
}

// StrategyGraph is the full typed dataflow DAG plus lineage metadata.
type StrategyGraph struct {
	GraphID        string    `json:"graph_id"`
	ParentGraphID  string    `json:"parent_graph_id,omitempty"`
	Generation     int       `json:"generation"`
	Fingerprint    string    `json:"fingerprint"`
	Nodes          []Node    `json:"nodes"`
	CreatedAt      time.Time `json:"created_at"`
}

// NodeByID returns the node with the given id, or false if absent.
func (g *StrategyGraph) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}
