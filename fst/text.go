package fst

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadText parses a graph in the whitespace-separated text format:
//
//	src dst ilabel olabel [weight]   one arc, weight defaults to 0
//	state [weight]                   one final state, weight defaults to 0
//
// The src of the first line is the start state. Blank lines and lines
// starting with '#' are skipped.
func ReadText(r io.Reader) (*Vector, error) {
	g := NewVector()
	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		vals := make([]int64, 0, 4)
		var weight float64
		nInts := len(fields)
		switch len(fields) {
		case 1, 2:
			nInts = 1
		case 4, 5:
			nInts = 4
		default:
			return nil, fmt.Errorf("fst: line %d: expected 1-2 or 4-5 fields, got %d", lineno, len(fields))
		}
		for i := 0; i < nInts; i++ {
			v, err := strconv.ParseInt(fields[i], 10, 32)
			if err != nil {
				return nil, fmt.Errorf("fst: line %d: field %d: %w", lineno, i+1, err)
			}
			vals = append(vals, v)
		}
		if len(fields) > nInts {
			w, err := strconv.ParseFloat(fields[nInts], 64)
			if err != nil {
				return nil, fmt.Errorf("fst: line %d: weight: %w", lineno, err)
			}
			weight = w
		}

		if nInts == 1 {
			g.SetFinal(StateID(vals[0]), weight)
			continue
		}
		src := StateID(vals[0])
		if g.Start() == NoState {
			g.SetStart(src)
		}
		g.AddArc(src, Arc{
			In:     Label(vals[2]),
			Out:    Label(vals[3]),
			Weight: weight,
			Next:   StateID(vals[1]),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("fst: read: %w", err)
	}
	if g.Start() == NoState {
		return nil, fmt.Errorf("fst: no arcs, start state undefined")
	}
	return g, nil
}

// WriteText writes g in the format ReadText parses. The start state's arcs
// come first so a round trip preserves the start state.
func WriteText(w io.Writer, g Graph) error {
	bw := bufio.NewWriter(w)
	writeState := func(s StateID) error {
		for _, a := range g.Arcs(s) {
			if _, err := fmt.Fprintf(bw, "%d\t%d\t%d\t%d\t%g\n", s, a.Next, a.In, a.Out, a.Weight); err != nil {
				return err
			}
		}
		if fw := g.FinalWeight(s); fw < Infinity {
			if _, err := fmt.Fprintf(bw, "%d\t%g\n", s, fw); err != nil {
				return err
			}
		}
		return nil
	}
	start := g.Start()
	if err := writeState(start); err != nil {
		return err
	}
	for s := StateID(0); int(s) < g.NumStates(); s++ {
		if s == start {
			continue
		}
		if err := writeState(s); err != nil {
			return err
		}
	}
	return bw.Flush()
}
