package mediaops

import "strings"

// FilterGraph is a typed AST for an ffmpeg -filter_complex graph: a list of
// nodes, each with input labels, a filter expression, and output labels.
// It replaces newline-joined string fragments (§9 design note) so the
// overlay stage's audio-present and audio-absent branches differ by one
// conditional appending nodes, not by duplicated string templates.
type FilterGraph struct {
	nodes []filterNode
}

type filterNode struct {
	inputs  []string
	filter  string
	outputs []string
}

func NewFilterGraph() *FilterGraph {
	return &FilterGraph{}
}

// Add appends one filter node. Labels are given without brackets; Add adds
// them. Pass a literal ffmpeg input selector (e.g. "0:v") as an input label
// to reference a stream directly rather than a prior node's output.
func (g *FilterGraph) Add(inputs []string, filter string, outputs []string) *FilterGraph {
	g.nodes = append(g.nodes, filterNode{inputs: inputs, filter: filter, outputs: outputs})
	return g
}

func labelize(labels []string) string {
	var sb strings.Builder
	for _, l := range labels {
		sb.WriteByte('[')
		sb.WriteString(l)
		sb.WriteByte(']')
	}
	return sb.String()
}

// String renders the graph as the semicolon-joined chain ffmpeg expects
// for -filter_complex.
func (g *FilterGraph) String() string {
	parts := make([]string, 0, len(g.nodes))
	for _, n := range g.nodes {
		parts = append(parts, labelize(n.inputs)+n.filter+labelize(n.outputs))
	}
	return strings.Join(parts, ";")
}
