package score

import (
	"fmt"
	"io"
	"sort"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Archive maps utterance ids to their cost matrices.
type Archive map[string]*Matrix

// IDs returns the utterance ids in sorted order for reproducible batch runs.
func (a Archive) IDs() []string {
	ids := make([]string, 0, len(a))
	for id := range a {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ReadArchive decodes a JSON object {"utt": [[cost, ...], ...], ...}
// of per-utterance cost matrices.
func ReadArchive(r io.Reader) (Archive, error) {
	var raw map[string][][]float64
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("score: decode archive: %w", err)
	}
	arch := make(Archive, len(raw))
	for id, rows := range raw {
		arch[id] = NewMatrix(rows)
	}
	return arch, nil
}

// WriteArchive encodes matrices in the format ReadArchive parses.
func WriteArchive(w io.Writer, arch Archive) error {
	raw := make(map[string][][]float64, len(arch))
	for id, m := range arch {
		raw[id] = m.rows
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(raw); err != nil {
		return fmt.Errorf("score: encode archive: %w", err)
	}
	return nil
}
