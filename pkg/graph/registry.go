package graph

import "sync"

// ParamSpec describes one parameter a node type accepts.
type ParamSpec struct {
	Name     string
	Kind     ValueKind
	Required bool
	Default  *Value // nil means no default; absence disables the feature it gates
}

// PortSpec describes one input or output port a node type exposes.
type PortSpec struct {
	Name string
	Kind OutputKind
}

// NodeSpec is the static shape of one node type: its ports and param
// schema. The executor dispatches on NodeType, never on reflection.
type NodeSpec struct {
	Type    NodeType
	Inputs  []PortSpec
	Outputs []PortSpec
	Params  []ParamSpec
}

// Registry holds the closed catalogue of node kinds this build supports,
// following a Register/Create/List shape generalized from named trading
// strategies to named DAG node kinds.
type Registry struct {
	mu    sync.RWMutex
	specs map[NodeType]NodeSpec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[NodeType]NodeSpec)}
}

// Register adds a node spec to the catalogue. Re-registering the same
// type overwrites its spec, which lets tests install fakes.
func (r *Registry) Register(spec NodeSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Type] = spec
}

// Spec returns the NodeSpec for a type, or false if unknown.
func (r *Registry) Spec(t NodeType) (NodeSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[t]
	return s, ok
}

// List returns every registered node type.
func (r *Registry) List() []NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeType, 0, len(r.specs))
	for t := range r.specs {
		out = append(out, t)
	}
	return out
}

// DefaultRegistry returns a Registry pre-populated with the minimum node
// catalogue spec §3 names.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, spec := range builtinSpecs() {
		r.Register(spec)
	}
	return r
}

func builtinSpecs() []NodeSpec {
	series := OutputKind(OutSeries)
	return []NodeSpec{
		{
			Type:    NodeMarketData,
			Outputs: []PortSpec{{"open", series}, {"high", series}, {"low", series}, {"close", series}, {"volume", series}},
			Params:  []ParamSpec{{Name: "symbol", Kind: ValueString, Required: true}},
		},
		{
			Type:    NodeSMA,
			Inputs:  []PortSpec{{"in", series}},
			Outputs: []PortSpec{{"out", series}},
			Params:  []ParamSpec{{Name: "period", Kind: ValueNumber, Required: true}},
		},
		{
			Type:    NodeEMA,
			Inputs:  []PortSpec{{"in", series}},
			Outputs: []PortSpec{{"out", series}},
			Params:  []ParamSpec{{Name: "period", Kind: ValueNumber, Required: true}},
		},
		{
			Type:    NodeRSI,
			Inputs:  []PortSpec{{"in", series}},
			Outputs: []PortSpec{{"out", series}},
			Params:  []ParamSpec{{Name: "period", Kind: ValueNumber, Required: true}},
		},
		{
			Type:    NodeATR,
			Inputs:  []PortSpec{{"high", series}, {"low", series}, {"close", series}},
			Outputs: []PortSpec{{"out", series}},
			Params:  []ParamSpec{{Name: "period", Kind: ValueNumber, Required: true}},
		},
		{
			Type:    NodeConstant,
			Outputs: []PortSpec{{"out", OutScalar}},
			Params:  []ParamSpec{{Name: "value", Kind: ValueNumber, Required: true}},
		},
		{
			Type:    NodeCompare,
			Inputs:  []PortSpec{{"lhs", series}, {"rhs", series}},
			Outputs: []PortSpec{{"out", OutBoolSeries}},
			Params:  []ParamSpec{{Name: "op", Kind: ValueString, Required: true}},
		},
		{
			Type:    NodeEntrySignal,
			Inputs:  []PortSpec{{"condition", OutBoolSeries}},
			Outputs: []PortSpec{{"out", OutSignal}},
			Params:  []ParamSpec{{Name: "side", Kind: ValueString, Required: true}},
		},
		{
			Type:    NodeExitSignal,
			Inputs:  []PortSpec{{"condition", OutBoolSeries}},
			Outputs: []PortSpec{{"out", OutSignal}},
		},
		{
			Type:    NodeStopLossFixed,
			Inputs:  []PortSpec{{"entry", OutSignal}},
			Outputs: []PortSpec{{"out", OutScalar}},
			Params:  []ParamSpec{{Name: "pct", Kind: ValueNumber, Required: true}},
		},
		{
			Type:    NodeStopLossATR,
			Inputs:  []PortSpec{{"entry", OutSignal}, {"atr", series}},
			Outputs: []PortSpec{{"out", OutScalar}},
			Params:  []ParamSpec{{Name: "multiple", Kind: ValueNumber, Required: true}},
		},
		{
			Type:    NodeTakeProfitFixed,
			Inputs:  []PortSpec{{"entry", OutSignal}},
			Outputs: []PortSpec{{"out", OutScalar}},
			Params:  []ParamSpec{{Name: "pct", Kind: ValueNumber, Required: true}},
		},
		{
			Type:    NodeTakeProfitATR,
			Inputs:  []PortSpec{{"entry", OutSignal}, {"atr", series}},
			Outputs: []PortSpec{{"out", OutScalar}},
			Params:  []ParamSpec{{Name: "multiple", Kind: ValueNumber, Required: true}},
		},
		{
			Type:    NodePositionSizeFixed,
			Outputs: []PortSpec{{"out", OutScalar}},
			Params:  []ParamSpec{{Name: "notional", Kind: ValueNumber, Required: true}},
		},
		{
			Type: NodeBracketOrder,
			Inputs: []PortSpec{
				{"entry", OutSignal}, {"exit", OutSignal},
				{"stop", OutScalar}, {"target", OutScalar}, {"size", OutScalar},
			},
			Outputs: []PortSpec{{"out", OutOrderBatch}},
		},
		{
			Type:   NodeRiskManagerDaily,
			Inputs: []PortSpec{{"orders", OutOrderBatch}},
			Outputs: []PortSpec{{"out", OutOrderBatch}},
			Params: []ParamSpec{
				{Name: "max_trades", Kind: ValueNumber, Required: false},
				{Name: "max_loss_pct", Kind: ValueNumber, Required: false},
				{Name: "max_profit_pct", Kind: ValueNumber, Required: false},
			},
		},
		{
			Type:    NodeSessionTimeFilter,
			Inputs:  []PortSpec{{"in", OutBoolSeries}},
			Outputs: []PortSpec{{"out", OutBoolSeries}},
			Params: []ParamSpec{
				{Name: "start_hour", Kind: ValueNumber, Required: true},
				{Name: "end_hour", Kind: ValueNumber, Required: true},
			},
		},
	}
}
