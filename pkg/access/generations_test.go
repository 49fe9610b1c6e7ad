package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerationsAdvance(t *testing.T) {
	g := NewGenerations(0)
	f1 := Key{SubjectID: "u1", ResourceType: ResourceFolder, ResourceID: "f1", Permission: "read"}
	f2 := Key{SubjectID: "u2", ResourceType: ResourceFolder, ResourceID: "f2", Permission: "read"}
	doc := Key{SubjectID: "u2", ResourceType: ResourceDocument, ResourceID: "f1", Permission: "read"}

	assert.Zero(t, g.Current(f1))

	g.Advance(ResourcePattern(ResourceFolder, "f1"))
	afterRule := g.Current(f1)
	assert.NotZero(t, afterRule)
	assert.Zero(t, g.Current(f2))
	assert.Zero(t, g.Current(doc), "same id under another resource type")

	g.Advance(SubjectPattern("u2"))
	assert.Equal(t, afterRule, g.Current(f1))
	assert.Greater(t, g.Current(f2), afterRule)
	assert.Equal(t, g.Current(f2), g.Current(doc))

	latest := g.Current(f2)
	g.Advance(KeyPattern{})
	assert.Greater(t, g.Current(f1), latest)
	assert.Equal(t, g.Current(f1), g.Current(f2))
}

func TestGenerationsNeverGoBackOnEviction(t *testing.T) {
	g := NewGenerations(1)
	f1 := Key{SubjectID: "u1", ResourceType: ResourceFolder, ResourceID: "f1"}
	f2 := Key{SubjectID: "u1", ResourceType: ResourceFolder, ResourceID: "f2"}

	g.Advance(ResourcePattern(ResourceFolder, "f1"))
	before := g.Current(f1)

	// f2 pushes f1 out of the table
	g.Advance(ResourcePattern(ResourceFolder, "f2"))
	assert.GreaterOrEqual(t, g.Current(f1), before)
	assert.Greater(t, g.Current(f2), before)
}

func TestNilGenerations(t *testing.T) {
	var g *Generations
	g.Advance(SubjectPattern("u1"))
	assert.Zero(t, g.Current(Key{SubjectID: "u1"}))
}
