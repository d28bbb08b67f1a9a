/*
 *	Copyright 2025 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package graph

import (
	"fmt"
	"strings"
)

// KindOf returns a short description of the node's role in the graph:
// "placeholder", "constant", "generator", "prepared", "preparable" or
// "view".
func KindOf(p Producer) string {
	switch p.(type) {
	case *Placeholder:
		return "placeholder"
	case *Constant:
		return "constant"
	}
	if _, ok := p.(TransformerView); ok {
		return "view"
	}
	if _, ok := p.(Preparable); ok {
		return "preparable"
	}
	if _, ok := p.(Prepared); ok {
		return "prepared"
	}
	if _, ok := p.(Generator); ok {
		return "generator"
	}
	return "unknown"
}

// NodesByType groups the graph nodes by their concrete Go type name.
// Intended for debugging and visualization tooling, which only ever needs
// read access to the node/edge enumeration.
func (g *Graph) NodesByType() map[string][]Producer {
	byType := make(map[string][]Producer)
	for _, node := range g.nodes {
		key := fmt.Sprintf("%T", node)
		byType[key] = append(byType[key], node)
	}
	return byType
}

// String returns a multi-line structural summary of the graph, one line per
// node in topological order.
func (g *Graph) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Graph: %d node(s), %d placeholder(s), %d output(s), reduction=%s\n",
		len(g.nodes), len(g.placeholders), len(g.outputs), g.level)
	for id, node := range g.nodes {
		_, _ = fmt.Fprintf(&sb, "\t#%d\t%s\t%q (%T)", id, KindOf(node), node.Name(), node)
		if len(g.parents[id]) > 0 {
			parts := make([]string, len(g.parents[id]))
			for i, pId := range g.parents[id] {
				parts[i] = fmt.Sprintf("#%d", pId)
			}
			_, _ = fmt.Fprintf(&sb, " <- [%s]", strings.Join(parts, ", "))
		}
		if !g.needed[id] {
			sb.WriteString(" (unused input)")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
