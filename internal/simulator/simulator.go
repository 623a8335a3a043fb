// Package simulator generates synthetic snapshot sequences: a base floor plan
// followed by generations with random removals, moves and additions.
package simulator

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/ChuLiYu/buildtrace/internal/codec"
	"github.com/ChuLiYu/buildtrace/pkg/types"
)

const (
	DefaultBaseObjects = 50
	DefaultJobs        = 5
)

// ObjectTypes are the categories generated objects are drawn from.
var ObjectTypes = []string{"wall", "door", "window", "column", "stair"}

// Object is one generated entity.
type Object struct {
	ID     string
	Type   string
	X, Y   int
	Width  int
	Height int
}

// Token encodes the object's state.
func (o Object) Token() types.StateToken {
	return codec.Encode(o.Type, o.X, o.Y, o.Width, o.Height)
}

// Config tunes a Generator.
type Config struct {
	BaseObjects int
	Seed        int64
	Now         func() time.Time
}

// Generator produces successive snapshots. Not safe for concurrent use.
type Generator struct {
	cfg     Config
	rng     *rand.Rand
	objects map[string]*Object
	usedIDs map[int]struct{}
	job     types.JobID
}

func New(cfg Config) *Generator {
	if cfg.BaseObjects <= 0 {
		cfg.BaseObjects = DefaultBaseObjects
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		objects: make(map[string]*Object),
		usedIDs: make(map[int]struct{}),
	}
}

// Next returns the snapshot for the next job id, starting at 1.
func (g *Generator) Next() (*types.Snapshot, error) {
	g.job++

	if len(g.objects) == 0 {
		g.seed()
	} else if err := g.mutate(); err != nil {
		return nil, err
	}

	return &types.Snapshot{
		JobID:     g.job,
		Timestamp: g.cfg.Now().UTC().Format("2006-01-02T15:04:05Z"),
		LatencyMs: int64(g.between(1000, 30000)),
		State:     g.state(),
	}, nil
}

// Generate returns n consecutive snapshots.
func (g *Generator) Generate(n int) ([]*types.Snapshot, error) {
	out := make([]*types.Snapshot, 0, n)
	for i := 0; i < n; i++ {
		snap, err := g.Next()
		if err != nil {
			return out, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (g *Generator) seed() {
	for i := 0; i < g.cfg.BaseObjects; i++ {
		typ := ObjectTypes[g.rng.Intn(len(ObjectTypes))]
		id := fmt.Sprintf("%s%03d", strings.ToUpper(typ[:1]), i)
		g.objects[id] = g.newObject(id, typ)
	}
}

func (g *Generator) mutate() error {
	// removals: 5-10% when more than 5 objects
	if len(g.objects) > 5 {
		n := g.between(len(g.objects)*5/100, len(g.objects)*10/100)
		for _, id := range g.sample(n) {
			delete(g.objects, id)
		}
	}

	// moves: 10-20% of what remains
	n := g.between(len(g.objects)*10/100, len(g.objects)*20/100)
	for _, id := range g.sample(n) {
		o := g.objects[id]
		o.X += g.between(-2, 2)
		o.Y += g.between(-2, 2)
	}

	// additions: 2-5 new objects
	adds := g.between(2, 5)
	for i := 0; i < adds; i++ {
		typ := ObjectTypes[g.rng.Intn(len(ObjectTypes))]
		suffix, err := g.uniqueSuffix()
		if err != nil {
			return err
		}
		id := fmt.Sprintf("J%dN%s%d", g.job, strings.ToUpper(typ[:1]), suffix)
		g.objects[id] = g.newObject(id, typ)
	}
	return nil
}

func (g *Generator) newObject(id, typ string) *Object {
	return &Object{
		ID:     id,
		Type:   typ,
		X:      g.between(0, 100),
		Y:      g.between(0, 100),
		Width:  g.between(1, 10),
		Height: g.between(1, 10),
	}
}

// uniqueSuffix draws from [100, 999] without repetition across the run.
func (g *Generator) uniqueSuffix() (int, error) {
	const lo, hi = 100, 999
	if len(g.usedIDs) > hi-lo {
		return 0, fmt.Errorf("simulator: exhausted unique ids in [%d, %d]", lo, hi)
	}
	for {
		n := g.between(lo, hi)
		if _, used := g.usedIDs[n]; !used {
			g.usedIDs[n] = struct{}{}
			return n, nil
		}
	}
}

// between returns a uniform int in [lo, hi].
func (g *Generator) between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + g.rng.Intn(hi-lo+1)
}

// sample picks n distinct ids. Ids are sorted first so a seed fully
// determines the result.
func (g *Generator) sample(n int) []string {
	ids := make([]string, 0, len(g.objects))
	for id := range g.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	g.rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	if n > len(ids) {
		n = len(ids)
	}
	return ids[:n]
}

func (g *Generator) state() types.StateMap {
	state := make(types.StateMap, len(g.objects))
	for id, o := range g.objects {
		state[id] = o.Token()
	}
	return state
}
