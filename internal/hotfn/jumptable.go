package hotfn

import (
	"sort"

	"github.com/roach88/hotpatch/internal/ir"
)

// JumpTable is delivered by the patch channel: a library holding the newly
// compiled bodies and a map from old symbols to their replacements.
type JumpTable struct {
	Lib string            `json:"lib"`
	Map map[Symbol]Symbol `json:"map"`
}

// Empty reports whether the jump table carries nothing to apply.
func (jt JumpTable) Empty() bool {
	return jt.Lib == "" || len(jt.Map) == 0
}

// Fingerprint returns a content hash of the jump table.
func (jt JumpTable) Fingerprint() (string, error) {
	m := make(map[string]string, len(jt.Map))
	for from, to := range jt.Map {
		m[string(from)] = string(to)
	}
	return ir.JumpTableFingerprint(jt.Lib, m)
}

// Sources returns the old symbols in sorted order.
func (jt JumpTable) Sources() []Symbol {
	out := make([]Symbol, 0, len(jt.Map))
	for s := range jt.Map {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
