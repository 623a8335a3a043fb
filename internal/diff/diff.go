// Package diff partitions the entity ids of two snapshots.
package diff

import (
	"sort"

	"github.com/ChuLiYu/buildtrace/pkg/types"
)

// Common is an id present in both snapshots.
type Common struct {
	ID       string
	Previous types.StateToken
	Current  types.StateToken
	Equal    bool // byte-for-byte token equality
}

// Result is the partition of ids across two snapshots. Each slice is sorted by id.
type Result struct {
	Added   []string
	Removed []string
	Common  []Common
}

// Changed returns the common entries whose tokens differ.
func (r Result) Changed() []Common {
	var out []Common
	for _, c := range r.Common {
		if !c.Equal {
			out = append(out, c)
		}
	}
	return out
}

// Unchanged counts the common entries with equal tokens.
func (r Result) Unchanged() int {
	n := 0
	for _, c := range r.Common {
		if c.Equal {
			n++
		}
	}
	return n
}

// Compute diffs current against previous. A nil or empty previous is the
// first generation: every current id is added.
func Compute(current, previous types.StateMap) Result {
	var res Result

	for id, curr := range current {
		prev, ok := previous[id]
		if !ok {
			res.Added = append(res.Added, id)
			continue
		}
		res.Common = append(res.Common, Common{
			ID:       id,
			Previous: prev,
			Current:  curr,
			Equal:    prev == curr,
		})
	}

	for id := range previous {
		if _, ok := current[id]; !ok {
			res.Removed = append(res.Removed, id)
		}
	}

	sort.Strings(res.Added)
	sort.Strings(res.Removed)
	sort.Slice(res.Common, func(i, j int) bool { return res.Common[i].ID < res.Common[j].ID })

	return res
}
