package lattice

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/ieee0824/latgen-go/fst"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// The on-disk form keeps nodes, arcs and finals as plain arrays so
// consumers can enumerate the lattice without decoder-internal knowledge.
type latticeJSON struct {
	Start  NodeID      `json:"start"`
	Nodes  []nodeJSON  `json:"nodes"`
	Arcs   []arcJSON   `json:"arcs"`
	Finals []finalJSON `json:"finals"`
}

type nodeJSON struct {
	State fst.StateID `json:"state"`
	Frame int32       `json:"frame"`
}

type arcJSON struct {
	Src    NodeID    `json:"src"`
	Dst    NodeID    `json:"dst"`
	In     fst.Label `json:"in"`
	Out    fst.Label `json:"out"`
	Weight float64   `json:"weight"`
}

type finalJSON struct {
	Node   NodeID  `json:"node"`
	Weight float64 `json:"weight"`
}

// WriteJSON serializes l. Arcs appear grouped by source node in insertion
// order, finals in node order.
func WriteJSON(w io.Writer, l *Lattice) error {
	out := latticeJSON{
		Start: l.start,
		Nodes: make([]nodeJSON, len(l.nodes)),
	}
	for i, n := range l.nodes {
		out.Nodes[i] = nodeJSON{State: n.State, Frame: n.Frame}
	}
	for src, as := range l.arcs {
		for _, a := range as {
			out.Arcs = append(out.Arcs, arcJSON{
				Src: NodeID(src), Dst: a.Dst,
				In: a.In, Out: a.Out, Weight: a.Weight,
			})
		}
	}
	for n := NodeID(0); int(n) < len(l.nodes); n++ {
		if fw, ok := l.finals[n]; ok {
			out.Finals = append(out.Finals, finalJSON{Node: n, Weight: fw})
		}
	}
	if err := json.NewEncoder(w).Encode(&out); err != nil {
		return fmt.Errorf("lattice: encode: %w", err)
	}
	return nil
}

// ReadJSON parses a lattice written by WriteJSON.
func ReadJSON(r io.Reader) (*Lattice, error) {
	var in latticeJSON
	if err := json.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("lattice: decode: %w", err)
	}
	l := New()
	for _, n := range in.Nodes {
		l.AddNode(n.State, n.Frame)
	}
	nn := NodeID(len(in.Nodes))
	if in.Start < 0 || in.Start >= nn {
		return nil, fmt.Errorf("lattice: start node %d out of range [0,%d)", in.Start, nn)
	}
	l.SetStart(in.Start)
	for _, a := range in.Arcs {
		if a.Src < 0 || a.Src >= nn || a.Dst < 0 || a.Dst >= nn {
			return nil, fmt.Errorf("lattice: arc %d->%d out of range [0,%d)", a.Src, a.Dst, nn)
		}
		l.AddArc(a.Src, Arc{In: a.In, Out: a.Out, Weight: a.Weight, Dst: a.Dst})
	}
	for _, f := range in.Finals {
		if f.Node < 0 || f.Node >= nn {
			return nil, fmt.Errorf("lattice: final node %d out of range [0,%d)", f.Node, nn)
		}
		l.SetFinal(f.Node, f.Weight)
	}
	return l, nil
}
