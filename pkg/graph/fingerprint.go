package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Fingerprint computes a stable content hash of the graph's structure
// (node ids, types, params, inputs) — independent of GraphID, lineage
// metadata, or CreatedAt, so two structurally identical graphs compiled
// at different times carry the same fingerprint.
func Fingerprint(g *StrategyGraph) string {
	nodes := make([]Node, len(g.Nodes))
	copy(nodes, g.Nodes)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, n := range nodes {
		keys := make([]string, 0, len(n.Params))
		for k := range n.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		_ = enc.Encode(n.ID)
		_ = enc.Encode(n.Type)
		for _, k := range keys {
			_ = enc.Encode(k)
			_ = enc.Encode(n.Params[k])
		}
		inputKeys := make([]string, 0, len(n.Inputs))
		for k := range n.Inputs {
			inputKeys = append(inputKeys, k)
		}
		sort.Strings(inputKeys)
		for _, k := range inputKeys {
			_ = enc.Encode(k)
			_ = enc.Encode(n.Inputs[k].String())
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
