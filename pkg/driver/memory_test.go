package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedWonderland(m *MemoryDriver) {
	m.AddEntity(&MemoryEntity{ID: "e1", Title: "White Rabbit", Aliases: []string{"the Rabbit"}, Description: "A hurried herald", Embedding: []float32{1, 0, 0}})
	m.AddEntity(&MemoryEntity{ID: "e2", Title: "Alice", Description: "A curious girl", Embedding: []float32{0, 1, 0}})
	m.AddEntity(&MemoryEntity{ID: "e3", Title: "Queen of Hearts", Description: "Off with their heads", Embedding: []float32{0, 0, 1}})
	m.AddRelationship(&MemoryRelationship{ID: "r1", SourceID: "e1", TargetID: "e3", Description: "serves as herald to", Weight: 8})
	m.AddRelationship(&MemoryRelationship{ID: "r2", SourceID: "e2", TargetID: "e1", Description: "follows", Weight: 5})
	m.AddCommunity(&MemoryCommunity{ID: "c1", Level: 1, Title: "The Royal Court", Summary: "The queen's retinue", Rank: 7.5, MemberIDs: []string{"e1", "e3"}})
	m.AddCommunity(&MemoryCommunity{ID: "c2", Level: 0, Title: "Wonderland", Summary: "Everyone in Wonderland", Rank: 9, MemberIDs: []string{"e1", "e2", "e3"}})
	m.AddChunk(&MemoryChunk{ID: "ch1", Text: "The White Rabbit checked his watch.", Embedding: []float32{1, 0, 0}})
	m.AddChunk(&MemoryChunk{ID: "ch2", Text: "Alice fell down the hole.", Embedding: []float32{0, 1, 0}})
}

func TestMemoryDriver_ResolveEntityExactMatch(t *testing.T) {
	m := NewMemoryDriver()
	seedWonderland(m)

	records, err := m.ResolveEntity(context.Background(), "white rabbit", nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "e1", records[0].ID)
	assert.Equal(t, 1.0, records[0].Score)
	assert.Equal(t, 2, records[0].Degree)
}

func TestMemoryDriver_ResolveEntityAliasMatch(t *testing.T) {
	m := NewMemoryDriver()
	seedWonderland(m)

	records, err := m.ResolveEntity(context.Background(), "the Rabbit", nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "e1", records[0].ID)
	assert.Equal(t, 0.9, records[0].Score)
}

func TestMemoryDriver_ResolveEntityUnknown(t *testing.T) {
	m := NewMemoryDriver()
	seedWonderland(m)

	records, err := m.ResolveEntity(context.Background(), "Cheshire Cat", nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMemoryDriver_ResolveEntityTieBreaksOnID(t *testing.T) {
	m := NewMemoryDriver()
	m.AddEntity(&MemoryEntity{ID: "e9", Title: "Hatter"})
	m.AddEntity(&MemoryEntity{ID: "e2", Title: "Hatter"})

	records, err := m.ResolveEntity(context.Background(), "Hatter", nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "e2", records[0].ID, "equal scores order by lexicographically smaller id")
	assert.Equal(t, "e9", records[1].ID)
}

func TestMemoryDriver_EntityRelationships(t *testing.T) {
	m := NewMemoryDriver()
	seedWonderland(m)

	rels, err := m.EntityRelationships(context.Background(), []string{"e1"})
	require.NoError(t, err)
	require.Len(t, rels, 2)

	rels, err = m.EntityRelationships(context.Background(), []string{"e3"})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "White Rabbit", rels[0].Source)
	assert.Equal(t, "Queen of Hearts", rels[0].Target)

	rels, err = m.EntityRelationships(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, rels)
}

func TestMemoryDriver_CommunityReports(t *testing.T) {
	m := NewMemoryDriver()
	seedWonderland(m)

	reports, err := m.CommunityReports(context.Background(), []string{"e3"}, 10)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	// Higher level first
	assert.Equal(t, "c1", reports[0].ID)
	assert.Equal(t, "c2", reports[1].ID)
}

func TestMemoryDriver_TopCommunityReportsLimit(t *testing.T) {
	m := NewMemoryDriver()
	seedWonderland(m)

	reports, err := m.TopCommunityReports(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "c1", reports[0].ID)
}

func TestMemoryDriver_SearchChunksByVector(t *testing.T) {
	m := NewMemoryDriver()
	seedWonderland(m)

	chunks, err := m.SearchChunksByVector(context.Background(), []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "ch1", chunks[0].ID)
	assert.InDelta(t, 1.0, chunks[0].Score, 1e-9)
	assert.InDelta(t, 0.0, chunks[1].Score, 1e-9)
}

func TestMemoryDriver_SearchChunksByVectorTieBreak(t *testing.T) {
	m := NewMemoryDriver()
	m.AddChunk(&MemoryChunk{ID: "z", Text: "z", Embedding: []float32{1, 0}})
	m.AddChunk(&MemoryChunk{ID: "a", Text: "a", Embedding: []float32{1, 0}})

	chunks, err := m.SearchChunksByVector(context.Background(), []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "a", chunks[0].ID)
	assert.Equal(t, "z", chunks[1].ID)
}

func TestMemoryDriver_SearchEntitiesByVector(t *testing.T) {
	m := NewMemoryDriver()
	seedWonderland(m)

	entities, err := m.SearchEntitiesByVector(context.Background(), []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "e2", entities[0].ID)
}

func TestMemoryDriver_Provider(t *testing.T) {
	m := NewMemoryDriver()
	assert.Equal(t, GraphProviderMemory, m.Provider())
	assert.NoError(t, m.Close(context.Background()))
}
