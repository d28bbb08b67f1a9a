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

package transformers

import (
	"strconv"

	"github.com/gomlx/dagpipe/graph"
)

// fmtFloat formats a float for structure hashing.
func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Index is a root generator whose value is the example's ordinal index, as
// an int64.
type Index struct {
	graph.NodeBase
}

var _ graph.Generator = &Index{}

// NewIndex creates an example-index generator.
func NewIndex() *Index {
	return &Index{NodeBase: graph.MakeNodeBase("index")}
}

// Parents implements graph.Producer. Generators are roots.
func (g *Index) Parents() []graph.Producer { return nil }

// Validate implements graph.Producer.
func (g *Index) Validate() error { return nil }

// Generate implements graph.Generator.
func (g *Index) Generate(index int64) (any, error) { return index, nil }

// EqualStructure implements graph.Producer.
func (g *Index) EqualStructure(other graph.Producer) bool {
	_, ok := other.(*Index)
	return ok
}

// StructureHash implements graph.Producer.
func (g *Index) StructureHash() uint64 {
	return graph.HashStructure("transformers.Index")
}
