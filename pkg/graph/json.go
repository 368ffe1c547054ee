package graph

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MarshalJSON renders a Value as its bare scalar (number/string/bool),
// matching the wire shape an LLM or a hand-authored graph file uses.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNumber:
		return json.Marshal(v.Num)
	case ValueString:
		return json.Marshal(v.Str)
	case ValueBool:
		return json.Marshal(v.Bool)
	default:
		return json.Marshal(nil)
	}
}

// UnmarshalJSON infers the Value's kind from the JSON scalar's own type.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case float64:
		*v = NumberValue(t)
	case string:
		*v = StringValue(t)
	case bool:
		*v = BoolValue(t)
	case nil:
		*v = Value{}
	default:
		return fmt.Errorf("graph: unsupported param value type %T", raw)
	}
	return nil
}

// MarshalJSON renders a PortRef as "<node_id>.<output_name>" per spec §3.
func (p PortRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.NodeID + "." + p.Output)
}

// UnmarshalJSON parses "<node_id>.<output_name>" into a PortRef.
func (p *PortRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	idx := strings.LastIndex(s, ".")
	if idx < 0 {
		return fmt.Errorf("graph: malformed port reference %q, expected <node_id>.<output_name>", s)
	}
	p.NodeID = s[:idx]
	p.Output = s[idx+1:]
	return nil
}

// String renders a PortRef in its canonical "<node_id>.<output_name>" form.
func (p PortRef) String() string {
	return p.NodeID + "." + p.Output
}
