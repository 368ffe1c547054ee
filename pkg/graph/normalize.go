package graph

import "strings"

// typeCaseIndex maps a lowercased node type name to its canonical spelling,
// built once from the registry so step 2 of the normalization pipeline
// (spec §4.6) never depends on a hardcoded list going stale.
func typeCaseIndex(reg *Registry) map[string]NodeType {
	idx := make(map[string]NodeType)
	for _, t := range reg.List() {
		idx[strings.ToLower(string(t))] = t
	}
	return idx
}

// Normalize applies the three-step pipeline spec §4.6 requires before
// every LLM output (and every repair response) is validated:
//  1. rewrite comparison operator synonyms to canonical symbols
//  2. rewrite node-type spellings (any case variant) to canonical
//  3. inject missing default params the schema declares
//
// It mutates g in place and returns the set of node ids it could not
// rewrite a node type for (unknown even after case-folding), so callers
// can surface those as I2 violations rather than silently dropping them.
func Normalize(g *StrategyGraph, reg *Registry) []string {
	caseIdx := typeCaseIndex(reg)
	var unresolved []string

	for i := range g.Nodes {
		n := &g.Nodes[i]

		// Step 2: node-type case rewrite.
		if _, ok := reg.Spec(n.Type); !ok {
			if canon, ok := caseIdx[strings.ToLower(string(n.Type))]; ok {
				n.Type = canon
			} else {
				unresolved = append(unresolved, n.ID)
				continue
			}
		}

		// Step 1: operator synonym rewrite (Compare nodes only).
		if n.Type == NodeCompare {
			if op, ok := n.Params["op"]; ok && op.Kind == ValueString {
				if canon, ok := CanonicalOp(op.Str); ok {
					if n.Params == nil {
						n.Params = map[string]Value{}
					}
					n.Params["op"] = StringValue(string(canon))
				}
			}
		}

		// Step 3: inject missing default params.
		spec, _ := reg.Spec(n.Type)
		for _, p := range spec.Params {
			if _, present := n.Params[p.Name]; present {
				continue
			}
			if p.Default == nil {
				continue
			}
			if n.Params == nil {
				n.Params = map[string]Value{}
			}
			n.Params[p.Name] = *p.Default
		}
	}

	return unresolved
}
