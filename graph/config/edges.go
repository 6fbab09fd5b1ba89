package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// validateEdges resolves each edge's `to` field (string or sequence) and
// rejects edges referencing undeclared nodes, including conditional edges
// whose `to` is a sequence (spec.md §4.4 item 1).
func (c *Config) validateEdges() error {
	knownNode := func(name string) bool {
		if name == Start || name == End {
			return true
		}
		_, ok := c.Nodes[name]
		return ok
	}

	for i := range c.Edges {
		e := &c.Edges[i]
		if e.From != Start && !knownNode(e.From) {
			return &LoadError{Field: fmt.Sprintf("edges[%d].from", i), Msg: fmt.Sprintf("unknown node %q", e.From)}
		}

		if e.To.Kind == 0 {
			return &LoadError{Field: fmt.Sprintf("edges[%d].to", i), Msg: "edge requires to"}
		}

		switch {
		case e.To.Kind == yaml.SequenceNode:
			var many []string
			if err := e.To.Decode(&many); err != nil {
				return &LoadError{Field: fmt.Sprintf("edges[%d].to", i), Msg: "to must be a string or list of strings", Cause: err}
			}
			for _, t := range many {
				if !knownNode(t) {
					return &LoadError{Field: fmt.Sprintf("edges[%d].to", i), Msg: fmt.Sprintf("unknown node %q", t)}
				}
			}
			e.ToMany = many
		default:
			var single string
			if err := e.To.Decode(&single); err != nil {
				return &LoadError{Field: fmt.Sprintf("edges[%d].to", i), Msg: "to must be a string or list of strings", Cause: err}
			}
			if !knownNode(single) {
				return &LoadError{Field: fmt.Sprintf("edges[%d].to", i), Msg: fmt.Sprintf("unknown node %q", single)}
			}
			e.ToSingle = single
		}
	}
	return nil
}
