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
	"fmt"

	"github.com/gomlx/dagpipe/graph"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// KMeans is a preparable clustering transformer: its input is a point
// ([]float64), and after preparation it maps each point to the index (int)
// of the nearest learned centroid.
//
// Preparation buffers the points and runs Lloyd's algorithm with a
// deterministic initialization (the first k distinct points), so preparing
// twice on the same stream yields the same centroids.
type KMeans struct {
	graph.NodeBase
	input      graph.Producer
	k          int
	iterations int
}

var _ graph.Preparable = &KMeans{}

// NewKMeans creates a k-means transformer over input with k clusters and a
// default of 10 Lloyd iterations.
func NewKMeans(input graph.Producer, k int) *KMeans {
	return &KMeans{NodeBase: graph.MakeNodeBase(fmt.Sprintf("kmeans(k=%d)", k)), input: input, k: k, iterations: 10}
}

// Iterations sets the number of Lloyd iterations.
//
// It returns the updated KMeans, so calls can be cascaded.
func (km *KMeans) Iterations(n int) *KMeans {
	km.iterations = n
	return km
}

// Parents implements graph.Producer.
func (km *KMeans) Parents() []graph.Producer { return []graph.Producer{km.input} }

// Validate implements graph.Producer.
func (km *KMeans) Validate() error {
	if km.input == nil {
		return errors.Errorf("KMeans requires an input")
	}
	if km.k < 1 {
		return errors.Errorf("KMeans requires k >= 1, got k=%d", km.k)
	}
	if km.iterations < 1 {
		return errors.Errorf("KMeans requires at least one iteration, got %d", km.iterations)
	}
	return nil
}

// WithParents implements graph.ChildProducer.
func (km *KMeans) WithParents(parents []graph.Producer) (graph.Producer, error) {
	if len(parents) != 1 {
		return nil, errors.Errorf("KMeans has exactly one input, cannot re-wire to %d", len(parents))
	}
	return NewKMeans(parents[0], km.k).Iterations(km.iterations), nil
}

// EqualStructure implements graph.Producer.
func (km *KMeans) EqualStructure(other graph.Producer) bool {
	o, ok := other.(*KMeans)
	return ok && o.k == km.k && o.iterations == km.iterations
}

// StructureHash implements graph.Producer.
func (km *KMeans) StructureHash() uint64 {
	return graph.HashStructure("transformers.KMeans", fmt.Sprintf("%d/%d", km.k, km.iterations))
}

// NewPreparer implements graph.Preparable.
func (km *KMeans) NewPreparer(pctx *graph.PreparerContext) (graph.Preparer, error) {
	p := &kmeansPreparer{k: km.k, iterations: km.iterations}
	if pctx.EstimatedExampleCount > 0 {
		p.points = make([][]float64, 0, pctx.EstimatedExampleCount)
	}
	return p, nil
}

type kmeansPreparer struct {
	k, iterations int
	points        [][]float64
}

func (p *kmeansPreparer) Process(values []any) error {
	point, ok := values[0].([]float64)
	if !ok {
		return errors.Errorf("KMeans input must be a []float64 point, got %T", values[0])
	}
	if len(p.points) > 0 && len(point) != len(p.points[0]) {
		return errors.Errorf("KMeans points must have a consistent dimension: got %d, previously %d",
			len(point), len(p.points[0]))
	}
	// The buffered stream outlives the example: copy.
	own := make([]float64, len(point))
	copy(own, point)
	p.points = append(p.points, own)
	return nil
}

func (p *kmeansPreparer) Finish() (graph.PreparerResult, error) {
	if len(p.points) == 0 {
		return graph.PreparerResult{}, errors.Errorf("KMeans saw no examples during preparation")
	}
	centroids, err := lloyd(p.points, p.k, p.iterations)
	if err != nil {
		return graph.PreparerResult{}, err
	}
	return graph.PreparerResult{
		NewData: &KMeansModel{
			NodeBase:  graph.MakeNodeBase("kmeans-model"),
			centroids: centroids,
		},
	}, nil
}

// lloyd runs Lloyd's algorithm with the first k distinct points as the
// initial centroids.
func lloyd(points [][]float64, k, iterations int) ([][]float64, error) {
	dim := len(points[0])
	var centroids [][]float64
	for _, point := range points {
		distinct := true
		for _, c := range centroids {
			if floats.Equal(c, point) {
				distinct = false
				break
			}
		}
		if distinct {
			centroids = append(centroids, append([]float64(nil), point...))
			if len(centroids) == k {
				break
			}
		}
	}
	if len(centroids) < k {
		return nil, errors.Errorf("KMeans with k=%d requires at least %d distinct points, got %d",
			k, k, len(centroids))
	}

	sums := make([][]float64, k)
	counts := make([]int, k)
	for i := range sums {
		sums[i] = make([]float64, dim)
	}
	for iter := 0; iter < iterations; iter++ {
		for i := range sums {
			for d := range sums[i] {
				sums[i][d] = 0
			}
			counts[i] = 0
		}
		for _, point := range points {
			best := nearest(centroids, point)
			floats.Add(sums[best], point)
			counts[best]++
		}
		for i := range centroids {
			if counts[i] == 0 {
				continue // Empty cluster keeps its centroid.
			}
			copy(centroids[i], sums[i])
			floats.Scale(1/float64(counts[i]), centroids[i])
		}
	}
	return centroids, nil
}

// nearest returns the index of the centroid closest (L2) to point, the
// lowest index winning ties.
func nearest(centroids [][]float64, point []float64) int {
	best, bestDist := 0, floats.Distance(centroids[0], point, 2)
	for i := 1; i < len(centroids); i++ {
		if d := floats.Distance(centroids[i], point, 2); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// KMeansModel is the prepared counterpart of KMeans: it assigns each point
// to its nearest centroid's index.
type KMeansModel struct {
	graph.NodeBase
	input     graph.Producer
	centroids [][]float64
}

var _ graph.Prepared = &KMeansModel{}

// Centroids returns a copy of the learned centroids.
func (m *KMeansModel) Centroids() [][]float64 {
	out := make([][]float64, len(m.centroids))
	for i, c := range m.centroids {
		out[i] = append([]float64(nil), c...)
	}
	return out
}

// Parents implements graph.Producer.
func (m *KMeansModel) Parents() []graph.Producer {
	if m.input == nil {
		return nil
	}
	return []graph.Producer{m.input}
}

// Validate implements graph.Producer.
func (m *KMeansModel) Validate() error {
	if m.input == nil {
		return errors.Errorf("KMeansModel requires an input")
	}
	if len(m.centroids) == 0 {
		return errors.Errorf("KMeansModel has no centroids")
	}
	return nil
}

// WithParents implements graph.ChildProducer.
func (m *KMeansModel) WithParents(parents []graph.Producer) (graph.Producer, error) {
	if len(parents) != 1 {
		return nil, errors.Errorf("KMeansModel has exactly one input, cannot re-wire to %d", len(parents))
	}
	return &KMeansModel{
		NodeBase:  graph.MakeNodeBase("kmeans-model"),
		input:     parents[0],
		centroids: m.centroids,
	}, nil
}

// Apply implements graph.Prepared.
func (m *KMeansModel) Apply(inputs []any) (any, error) {
	point, ok := inputs[0].([]float64)
	if !ok {
		return nil, errors.Errorf("KMeansModel input must be a []float64 point, got %T", inputs[0])
	}
	if len(point) != len(m.centroids[0]) {
		return nil, errors.Errorf("KMeansModel expects %d-dimensional points, got %d",
			len(m.centroids[0]), len(point))
	}
	return nearest(m.centroids, point), nil
}

// EqualStructure implements graph.Producer.
func (m *KMeansModel) EqualStructure(other graph.Producer) bool {
	o, ok := other.(*KMeansModel)
	if !ok || len(o.centroids) != len(m.centroids) {
		return false
	}
	for i, c := range m.centroids {
		if !floats.Equal(c, o.centroids[i]) {
			return false
		}
	}
	return true
}

// StructureHash implements graph.Producer.
func (m *KMeansModel) StructureHash() uint64 {
	return graph.HashStructure("transformers.KMeansModel", fmt.Sprintf("%v", m.centroids))
}

// Centroids is a TransformerView over a KMeans transformer: once the
// transformer is prepared, the view's value is the learned centroids
// ([][]float64), available as a constant to sibling branches.
type Centroids struct {
	graph.NodeBase
	viewed *KMeans
}

var _ graph.TransformerView = &Centroids{}

// NewCentroids creates a view of the centroids learned by km.
func NewCentroids(km *KMeans) *Centroids {
	return &Centroids{NodeBase: graph.MakeNodeBase("centroids-of"), viewed: km}
}

// Parents implements graph.Producer: the single parent is the viewed
// transformer.
func (v *Centroids) Parents() []graph.Producer { return []graph.Producer{v.viewed} }

// Validate implements graph.Producer.
func (v *Centroids) Validate() error {
	if v.viewed == nil {
		return errors.Errorf("Centroids requires the KMeans transformer it observes")
	}
	return nil
}

// WithParents implements graph.ChildProducer.
func (v *Centroids) WithParents(parents []graph.Producer) (graph.Producer, error) {
	if len(parents) != 1 {
		return nil, errors.Errorf("Centroids has exactly one parent, cannot re-wire to %d", len(parents))
	}
	viewed, ok := parents[0].(*KMeans)
	if !ok {
		return nil, errors.Errorf("Centroids must observe a *KMeans, got %T", parents[0])
	}
	return NewCentroids(viewed), nil
}

// ComputeView implements graph.TransformerView.
func (v *Centroids) ComputeView(prepared graph.Prepared) (any, error) {
	model, ok := prepared.(*KMeansModel)
	if !ok {
		return nil, errors.Errorf("Centroids expected a *KMeansModel, got %T", prepared)
	}
	return model.Centroids(), nil
}

// EqualStructure implements graph.Producer.
func (v *Centroids) EqualStructure(other graph.Producer) bool {
	_, ok := other.(*Centroids)
	return ok
}

// StructureHash implements graph.Producer.
func (v *Centroids) StructureHash() uint64 {
	return graph.HashStructure("transformers.Centroids")
}
