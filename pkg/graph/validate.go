package graph

import "fmt"

// ValidationError reports a single invariant violation. Repair and
// graph_validation_error handling key off the Invariant tag, not the
// message text.
type ValidationError struct {
	Invariant string // "I1".."I5"
	NodeID    string
	Message   string
}

func (e *ValidationError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", e.Invariant, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Invariant, e.Message)
}

// Validate checks I1-I5 against the registry's known node catalogue.
// It returns every violation found, not just the first, so a repair
// prompt can address them all in one round.
func Validate(g *StrategyGraph, reg *Registry) []*ValidationError {
	var errs []*ValidationError

	seen := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, dup := seen[n.ID]; dup {
			errs = append(errs, &ValidationError{Invariant: "I2", NodeID: n.ID, Message: "duplicate node id"})
			continue
		}
		seen[n.ID] = n
	}

	// I2/I3: every input resolves to an existing node+output of matching kind.
	specByNode := make(map[string]NodeSpec, len(g.Nodes))
	for _, n := range g.Nodes {
		spec, ok := reg.Spec(n.Type)
		if !ok {
			errs = append(errs, &ValidationError{Invariant: "I2", NodeID: n.ID, Message: fmt.Sprintf("unknown node type %q", n.Type)})
			continue
		}
		specByNode[n.ID] = spec
	}
	for _, n := range g.Nodes {
		spec, ok := specByNode[n.ID]
		if !ok {
			continue
		}
		for portName, ref := range n.Inputs {
			srcNode, ok := seen[ref.NodeID]
			if !ok {
				errs = append(errs, &ValidationError{Invariant: "I2", NodeID: n.ID, Message: fmt.Sprintf("input %q references unknown node %q", portName, ref.NodeID)})
				continue
			}
			srcSpec, ok := specByNode[srcNode.ID]
			if !ok {
				continue
			}
			var srcOut *PortSpec
			for i := range srcSpec.Outputs {
				if srcSpec.Outputs[i].Name == ref.Output {
					srcOut = &srcSpec.Outputs[i]
					break
				}
			}
			if srcOut == nil {
				errs = append(errs, &ValidationError{Invariant: "I2", NodeID: n.ID, Message: fmt.Sprintf("input %q references unknown output %q on node %q", portName, ref.Output, ref.NodeID)})
				continue
			}
			var wantKind OutputKind
			found := false
			for _, in := range spec.Inputs {
				if in.Name == portName {
					wantKind = in.Kind
					found = true
					break
				}
			}
			if found && !kindsCompatible(wantKind, srcOut.Kind) {
				errs = append(errs, &ValidationError{Invariant: "I3", NodeID: n.ID, Message: fmt.Sprintf("port %q expects %s, got %s from %s", portName, wantKind, srcOut.Kind, ref)})
			}
		}
	}

	// I1: no cycles (Kahn's algorithm over the resolved edges).
	if cyc := findCycle(g); cyc != "" {
		errs = append(errs, &ValidationError{Invariant: "I1", Message: "cycle detected involving node " + cyc})
	}

	// I4: at least one MarketData source and one terminal BracketOrder/OrderGenerator.
	hasMarketData := false
	hasTerminal := false
	for _, n := range g.Nodes {
		if n.Type == NodeMarketData {
			hasMarketData = true
		}
		if n.Type == NodeBracketOrder {
			hasTerminal = true
		}
	}
	if !hasMarketData {
		errs = append(errs, &ValidationError{Invariant: "I4", Message: "graph has no MarketData source"})
	}
	if !hasTerminal {
		errs = append(errs, &ValidationError{Invariant: "I4", Message: "graph has no terminal BracketOrder/OrderGenerator"})
	}

	// I5: Compare nodes must carry a canonical operator symbol.
	for _, n := range g.Nodes {
		if n.Type != NodeCompare {
			continue
		}
		op, ok := n.Params["op"]
		if !ok || op.Kind != ValueString {
			errs = append(errs, &ValidationError{Invariant: "I5", NodeID: n.ID, Message: "missing op param"})
			continue
		}
		if _, ok := CanonicalOp(op.Str); !ok {
			errs = append(errs, &ValidationError{Invariant: "I5", NodeID: n.ID, Message: fmt.Sprintf("unrecognized comparison operator %q", op.Str)})
		} else if canon, _ := CanonicalOp(op.Str); string(canon) != op.Str {
			errs = append(errs, &ValidationError{Invariant: "I5", NodeID: n.ID, Message: fmt.Sprintf("operator %q not yet normalized to canonical symbol", op.Str)})
		}
	}

	return errs
}

// kindsCompatible reports whether a value produced with kind `have` may
// feed a port declared with kind `want`. A scalar constant legitimately
// broadcasts across a series (e.g. comparing RSI's series output against
// a fixed threshold of 30), so scalar<->series is accepted; every other
// mismatch is a real type error.
func kindsCompatible(want, have OutputKind) bool {
	if want == have {
		return true
	}
	scalarSeries := func(a, b OutputKind) bool {
		return a == OutScalar && b == OutSeries
	}
	return scalarSeries(want, have) || scalarSeries(have, want)
}

// findCycle runs Kahn's algorithm and returns the id of a node that never
// reaches in-degree zero (i.e. is part of a cycle), or "" if none.
func findCycle(g *StrategyGraph) string {
	indeg := make(map[string]int, len(g.Nodes))
	adj := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, ok := indeg[n.ID]; !ok {
			indeg[n.ID] = 0
		}
		for _, ref := range n.Inputs {
			adj[ref.NodeID] = append(adj[ref.NodeID], n.ID)
			indeg[n.ID]++
		}
	}

	var queue []string
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		// deterministic: pick smallest id lexically each round.
		minIdx := 0
		for i := 1; i < len(queue); i++ {
			if queue[i] < queue[minIdx] {
				minIdx = i
			}
		}
		id := queue[minIdx]
		queue = append(queue[:minIdx], queue[minIdx+1:]...)
		visited++
		for _, next := range adj[id] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(indeg) {
		for id, d := range indeg {
			if d > 0 {
				return id
			}
		}
	}
	return ""
}

// TopoOrder returns node ids in a valid topological order, tie-broken by
// id ascending for determinism (graphexec relies on this ordering).
func TopoOrder(g *StrategyGraph) []string {
	indeg := make(map[string]int, len(g.Nodes))
	adj := make(map[string][]string, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, ok := indeg[n.ID]; !ok {
			indeg[n.ID] = 0
		}
		for _, ref := range n.Inputs {
			adj[ref.NodeID] = append(adj[ref.NodeID], n.ID)
			indeg[n.ID]++
		}
	}
	var order []string
	var ready []string
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	for len(ready) > 0 {
		minIdx := 0
		for i := 1; i < len(ready); i++ {
			if ready[i] < ready[minIdx] {
				minIdx = i
			}
		}
		id := ready[minIdx]
		ready = append(ready[:minIdx], ready[minIdx+1:]...)
		order = append(order, id)
		for _, next := range adj[id] {
			indeg[next]--
			if indeg[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return order
}
