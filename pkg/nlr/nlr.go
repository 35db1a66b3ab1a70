// Package nlr implements the Network-Level Reasoner: a typed layer graph
// over a neural network's structure (spec.md §4.D/§4.E), used to evaluate
// concrete inputs, simulate batches in parallel, and propagate bounds
// through the network by interval arithmetic, symbolic bound propagation,
// DeepPoly-style relaxation, and backward-converge LP tightening.
//
// The layer graph is a DAG rather than a strict feedforward chain, so it is
// built and ordered with github.com/katalvlaran/lvlath's core.Graph and
// dfs.TopologicalSort rather than a hand-rolled traversal: skip connections
// and Bilinear's two-source fan-in are ordinary multi-parent vertices.
package nlr

import (
	"fmt"
	"strconv"

	"github.com/katalvlaran/lvlath/core"
	"github.com/katalvlaran/lvlath/dfs"
	"gonum.org/v1/gonum/mat"

	"github.com/nnverify/marabou-go/pkg/boundstore"
	"github.com/nnverify/marabou-go/pkg/plconstraint"
	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// LayerKind identifies the computation a layer performs.
type LayerKind int

const (
	LayerInput LayerKind = iota
	LayerWeightedSum
	LayerReLU
	LayerAbsoluteValue
	LayerSign
	LayerRound
	LayerLeakyReLU
	LayerSigmoid
	LayerTanh
	LayerMax
	LayerSoftmax
	LayerBilinear
)

func (k LayerKind) String() string {
	switch k {
	case LayerInput:
		return "Input"
	case LayerWeightedSum:
		return "WeightedSum"
	case LayerReLU:
		return "ReLU"
	case LayerAbsoluteValue:
		return "AbsoluteValue"
	case LayerSign:
		return "Sign"
	case LayerRound:
		return "Round"
	case LayerLeakyReLU:
		return "LeakyReLU"
	case LayerSigmoid:
		return "Sigmoid"
	case LayerTanh:
		return "Tanh"
	case LayerMax:
		return "Max"
	case LayerSoftmax:
		return "Softmax"
	case LayerBilinear:
		return "Bilinear"
	default:
		return "?"
	}
}

// Layer is one node of the layer DAG. Neurons holds the query variable
// index backing each of the layer's Size neurons, in order.
type Layer struct {
	Index      int
	Kind       LayerKind
	Size       int
	Sources    []int // indices of layers this layer consumes
	Neurons    []int // variable index per neuron
	Weights    *mat.Dense
	Biases     []float64
	Alpha      float64 // LeakyReLU slope
	MaxInputs  [][]int // per-output-neuron list of source-variable indices, for LayerMax
}

// NLR is a built, ordered layer graph together with the PL/NL constraints
// generated for its activation layers (spec.md §4.F "NLR construction").
type NLR struct {
	Layers      []*Layer
	order       []int // topological layer-index order
	Constraints []plconstraint.Constraint
	NumInputs   int
	NumOutputs  int
}

// Builder incrementally constructs an NLR and its backing PL/NL
// constraints, wiring each activation layer into the shared bound store so
// propagation and the search engine see the same watcher graph.
type Builder struct {
	store *boundstore.Store
	eps   tolerance.Eps
	nlr   *NLR
	graph *core.Graph
}

// NewBuilder creates a Builder targeting store for variable bound
// watching.
func NewBuilder(store *boundstore.Store, eps tolerance.Eps) *Builder {
	return &Builder{
		store: store,
		eps:   eps,
		nlr:   &NLR{},
		graph: core.NewGraph(core.WithDirected(true)),
	}
}

func (b *Builder) vertexID(i int) string { return strconv.Itoa(i) }

func (b *Builder) addLayer(l *Layer) int {
	l.Index = len(b.nlr.Layers)
	b.nlr.Layers = append(b.nlr.Layers, l)
	if err := b.graph.AddVertex(b.vertexID(l.Index)); err != nil {
		panic(fmt.Sprintf("nlr: AddVertex: %v", err))
	}
	for _, src := range l.Sources {
		if _, err := b.graph.AddEdge(b.vertexID(src), b.vertexID(l.Index), 1); err != nil {
			panic(fmt.Sprintf("nlr: AddEdge: %v", err))
		}
	}
	return l.Index
}

// AddInput registers an input layer backed by the given variable indices.
func (b *Builder) AddInput(vars []int) int {
	return b.addLayer(&Layer{Kind: LayerInput, Size: len(vars), Neurons: append([]int(nil), vars...)})
}

// AddWeightedSum adds a dense affine layer: out = W*sourceNeurons + bias.
func (b *Builder) AddWeightedSum(source int, weights *mat.Dense, biases []float64, outVars []int) int {
	return b.addLayer(&Layer{
		Kind: LayerWeightedSum, Size: len(outVars), Sources: []int{source},
		Neurons: append([]int(nil), outVars...), Weights: weights, Biases: append([]float64(nil), biases...),
	})
}

// addUnaryActivation is shared by the one-input-one-output activation
// kinds (ReLU, AbsoluteValue, Sign, Round, LeakyReLU, Sigmoid, Tanh): it
// creates the layer, builds one Constraint per neuron pairing the source
// layer's variable with the new output variable, and registers each with
// the bound store.
func (b *Builder) addUnaryActivation(kind LayerKind, source int, outVars []int, alpha float64) int {
	srcLayer := b.nlr.Layers[source]
	idx := b.addLayer(&Layer{Kind: kind, Size: len(outVars), Sources: []int{source}, Neurons: append([]int(nil), outVars...), Alpha: alpha})
	for i, fVar := range outVars {
		bVar := srcLayer.Neurons[i]
		var c plconstraint.Constraint
		switch kind {
		case LayerReLU:
			c = plconstraint.NewRelu(b.store, b.eps, bVar, fVar)
		case LayerAbsoluteValue:
			c = plconstraint.NewAbsoluteValue(b.store, b.eps, bVar, fVar)
		case LayerSign:
			c = plconstraint.NewSign(b.store, b.eps, bVar, fVar)
		case LayerRound:
			c = plconstraint.NewRound(b.store, b.eps, bVar, fVar)
		case LayerLeakyReLU:
			c = plconstraint.NewLeakyRelu(b.store, b.eps, bVar, fVar, alpha)
		case LayerSigmoid:
			c = plconstraint.NewSigmoid(b.store, b.eps, bVar, fVar)
		case LayerTanh:
			c = plconstraint.NewTanh(b.store, b.eps, bVar, fVar)
		default:
			panic(fmt.Sprintf("nlr: addUnaryActivation: unsupported kind %v", kind))
		}
		c.Watch(b.store)
		b.nlr.Constraints = append(b.nlr.Constraints, c)
	}
	return idx
}

func (b *Builder) AddReLU(source int, outVars []int) int         { return b.addUnaryActivation(LayerReLU, source, outVars, 0) }
func (b *Builder) AddAbsoluteValue(source int, outVars []int) int { return b.addUnaryActivation(LayerAbsoluteValue, source, outVars, 0) }
func (b *Builder) AddSign(source int, outVars []int) int         { return b.addUnaryActivation(LayerSign, source, outVars, 0) }
func (b *Builder) AddRound(source int, outVars []int) int        { return b.addUnaryActivation(LayerRound, source, outVars, 0) }
func (b *Builder) AddLeakyReLU(source int, outVars []int, alpha float64) int {
	return b.addUnaryActivation(LayerLeakyReLU, source, outVars, alpha)
}
func (b *Builder) AddSigmoid(source int, outVars []int) int { return b.addUnaryActivation(LayerSigmoid, source, outVars, 0) }
func (b *Builder) AddTanh(source int, outVars []int) int    { return b.addUnaryActivation(LayerTanh, source, outVars, 0) }

// AddMax adds a layer whose i-th output is the max over inputs[i], each a
// list of source-variable indices (spec.md §4.C "Max" generalized to
// per-output fan-in, e.g. max-pooling).
func (b *Builder) AddMax(sources []int, inputs [][]int, outVars []int) int {
	idx := b.addLayer(&Layer{Kind: LayerMax, Size: len(outVars), Sources: sources, Neurons: append([]int(nil), outVars...), MaxInputs: inputs})
	for i, fVar := range outVars {
		c := plconstraint.NewMax(b.store, b.eps, inputs[i], fVar)
		c.Watch(b.store)
		b.nlr.Constraints = append(b.nlr.Constraints, c)
	}
	return idx
}

// AddSoftmax adds a softmax layer over the source layer's neurons.
func (b *Builder) AddSoftmax(source int, outVars []int) int {
	srcLayer := b.nlr.Layers[source]
	idx := b.addLayer(&Layer{Kind: LayerSoftmax, Size: len(outVars), Sources: []int{source}, Neurons: append([]int(nil), outVars...)})
	c := plconstraint.NewSoftmax(b.store, b.eps, srcLayer.Neurons, outVars)
	c.Watch(b.store)
	b.nlr.Constraints = append(b.nlr.Constraints, c)
	return idx
}

// AddBilinear adds one bilinear output f = sourceA[i]*sourceB[i] per index.
func (b *Builder) AddBilinear(sourceA, sourceB int, outVars []int) int {
	idx := b.addLayer(&Layer{Kind: LayerBilinear, Size: len(outVars), Sources: []int{sourceA, sourceB}, Neurons: append([]int(nil), outVars...)})
	la, lb := b.nlr.Layers[sourceA], b.nlr.Layers[sourceB]
	for i, fVar := range outVars {
		c := plconstraint.NewBilinear(b.store, b.eps, la.Neurons[i], lb.Neurons[i], fVar)
		c.Watch(b.store)
		b.nlr.Constraints = append(b.nlr.Constraints, c)
	}
	return idx
}

// Build finalizes the NLR, computing its topological layer order. It must
// be called once, after every layer has been added.
func (b *Builder) Build() (*NLR, error) {
	order, err := dfs.TopologicalSort(b.graph)
	if err != nil {
		return nil, fmt.Errorf("nlr: topological sort: %w", err)
	}
	idxOrder := make([]int, len(order))
	for i, id := range order {
		n, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("nlr: malformed vertex id %q: %w", id, err)
		}
		idxOrder[i] = n
	}
	b.nlr.order = idxOrder
	for _, l := range b.nlr.Layers {
		if l.Kind == LayerInput {
			b.nlr.NumInputs += l.Size
		}
	}
	if len(b.nlr.Layers) > 0 {
		b.nlr.NumOutputs = b.nlr.Layers[len(b.nlr.Layers)-1].Size
	}
	return b.nlr, nil
}
