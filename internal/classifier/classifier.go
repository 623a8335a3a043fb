// Package classifier turns token changes into human-readable descriptions.
package classifier

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ChuLiYu/buildtrace/internal/codec"
	"github.com/ChuLiYu/buildtrace/internal/diff"
	"github.com/ChuLiYu/buildtrace/pkg/types"
)

// fallbackPhrase is only used if a non-zero delta produced no direction.
const fallbackPhrase = "slightly adjusted position"

// DescribeMove describes how entity id changed between prev and curr.
// Callers invoke it only when the two tokens differ. Deltas are exact for
// coordinates of any size.
func DescribeMove(id string, prev, curr types.StateToken) string {
	p, _ := codec.DecodePosition(prev)
	c, _ := codec.DecodePosition(curr)
	return describeMove(id, p, c)
}

func describeMove(id string, p, c codec.Position) string {
	dx := new(big.Int).Sub(c.X, p.X)
	dy := new(big.Int).Sub(c.Y, p.Y)

	if dx.Sign() == 0 && dy.Sign() == 0 {
		return fmt.Sprintf("%s attributes modified (not position).", id)
	}

	var direction []string
	switch dx.Sign() {
	case 1:
		direction = append(direction, dx.String()+" units east")
	case -1:
		direction = append(direction, dx.Neg(dx).String()+" units west")
	}
	switch dy.Sign() {
	case 1:
		direction = append(direction, dy.String()+" units north")
	case -1:
		direction = append(direction, dy.Neg(dy).String()+" units south")
	}

	phrase := fallbackPhrase
	if len(direction) > 0 {
		phrase = strings.Join(direction, " and ")
	}
	return fmt.Sprintf("%s (%s) moved %s", id, p.Category, phrase)
}

// DescribeAdded renders an added entity from its current token.
func DescribeAdded(id string, d types.DecodedToken) string {
	return describeAdded(id, d.Category, strconv.Itoa(d.X), strconv.Itoa(d.Y))
}

func describeAdded(id, category, x, y string) string {
	return fmt.Sprintf("%s (%s added at x:%s, y:%s)", id, category, x, y)
}

// DescribeRemoved renders a removed entity.
func DescribeRemoved(id string) string {
	return id + " removed"
}

// Classification is the outcome of Classify.
type Classification struct {
	Records []types.ChangeRecord
	// Degraded lists ids whose decoded token was malformed and was read as
	// the unknown sentinel. Unchanged and removed entities are never decoded.
	Degraded []string
}

// Classify labels every id of a diff result. Records come out in the order
// added, removed, then common ids, each group sorted by id.
func Classify(res diff.Result, current types.StateMap) Classification {
	out := Classification{
		Records: make([]types.ChangeRecord, 0, len(res.Added)+len(res.Removed)+len(res.Common)),
	}

	for _, id := range res.Added {
		pos, err := codec.DecodePosition(current[id])
		if err != nil {
			out.Degraded = append(out.Degraded, id)
		}
		rec := types.ChangeRecord{
			Kind:        types.ChangeAdded,
			EntityID:    id,
			Description: describeAdded(id, pos.Category, pos.X.String(), pos.Y.String()),
		}
		if d, ok := pos.Decoded(); ok {
			rec.Decoded = &d
		}
		out.Records = append(out.Records, rec)
	}
	for _, id := range res.Removed {
		out.Records = append(out.Records, types.ChangeRecord{Kind: types.ChangeRemoved, EntityID: id})
	}
	for _, c := range res.Common {
		if c.Equal {
			out.Records = append(out.Records, types.ChangeRecord{Kind: types.ChangeUnchanged, EntityID: c.ID})
			continue
		}
		p, perr := codec.DecodePosition(c.Previous)
		q, qerr := codec.DecodePosition(c.Current)
		if perr != nil || qerr != nil {
			out.Degraded = append(out.Degraded, c.ID)
		}
		out.Records = append(out.Records, types.ChangeRecord{
			Kind:        types.ChangeModified,
			EntityID:    c.ID,
			Description: describeMove(c.ID, p, q),
		})
	}

	return out
}

// Render returns the report line for a record. Unchanged records have none.
func Render(r types.ChangeRecord) string {
	switch r.Kind {
	case types.ChangeAdded:
		if r.Description != "" {
			return r.Description
		}
		d := codec.Unknown
		if r.Decoded != nil {
			d = *r.Decoded
		}
		return DescribeAdded(r.EntityID, d)
	case types.ChangeRemoved:
		return DescribeRemoved(r.EntityID)
	case types.ChangeModified:
		return r.Description
	default:
		return ""
	}
}
