package access

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultGenerationEntries bounds how many resources and subjects keep their
// own generation counter
const DefaultGenerationEntries = 10_000

// Generations counts committed changes per resource and per subject. The
// resolver reads the generation of a key before evaluating and refuses to
// cache a decision when it moved in the meantime.
//
// Entries pushed out of the LRU raise a shared floor, so the generation
// reported for a key never goes backwards. A nil *Generations is valid and
// always reports zero.
type Generations struct {
	mu    sync.Mutex
	seq   uint64
	floor uint64
	last  *simplelru.LRU[string, uint64]
}

// NewGenerations creates a counter table holding up to size entries. A
// non-positive size selects DefaultGenerationEntries.
func NewGenerations(size int) *Generations {
	if size <= 0 {
		size = DefaultGenerationEntries
	}
	g := &Generations{}
	// the callback runs inside Add, which is always called with g.mu held
	last, err := simplelru.NewLRU[string, uint64](size, func(_ string, v uint64) {
		if v > g.floor {
			g.floor = v
		}
	})
	if err != nil {
		panic(err)
	}
	g.last = last
	return g
}

// Advance records a change affecting every key that p matches. A pattern
// naming neither a resource nor a subject advances every key.
func (g *Generations) Advance(p KeyPattern) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.seq++
	switch {
	case p.ResourceType != "" && p.ResourceID != "":
		g.last.Add(resourceGeneration(p.ResourceType, p.ResourceID), g.seq)
	case p.SubjectID != "":
		g.last.Add(subjectGeneration(p.SubjectID), g.seq)
	default:
		g.floor = g.seq
	}
}

// Current returns the generation of k: the latest change recorded for its
// resource, its subject, or everything.
func (g *Generations) Current(k Key) uint64 {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	gen := g.floor
	if v, ok := g.last.Peek(resourceGeneration(k.ResourceType, k.ResourceID)); ok && v > gen {
		gen = v
	}
	if v, ok := g.last.Peek(subjectGeneration(k.SubjectID)); ok && v > gen {
		gen = v
	}
	return gen
}

func resourceGeneration(resourceType ResourceType, resourceID string) string {
	return "r|" + string(resourceType) + "|" + resourceID
}

func subjectGeneration(subjectID string) string {
	return "s|" + subjectID
}
