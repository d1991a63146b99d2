package driver

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryEntity is an entity seeded into the in-memory driver.
type MemoryEntity struct {
	ID          string
	Title       string
	Aliases     []string
	Description string
	Embedding   []float32
}

// MemoryRelationship is a relationship seeded into the in-memory driver.
type MemoryRelationship struct {
	ID          string
	SourceID    string
	TargetID    string
	Description string
	Weight      float64
}

// MemoryCommunity is a community report seeded into the in-memory driver.
type MemoryCommunity struct {
	ID          string
	Level       int
	Title       string
	Summary     string
	Rank        float64
	FullContent string
	MemberIDs   []string
}

// MemoryChunk is a text chunk seeded into the in-memory driver.
type MemoryChunk struct {
	ID        string
	Text      string
	Embedding []float32
}

// MemoryDriver implements GraphDriver over in-process maps. It backs tests
// and local development without a Neo4j instance.
type MemoryDriver struct {
	mu            sync.RWMutex
	entities      []*MemoryEntity
	relationships []*MemoryRelationship
	communities   []*MemoryCommunity
	chunks        []*MemoryChunk
}

// NewMemoryDriver creates an empty in-memory driver.
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{}
}

// AddEntity seeds an entity.
func (m *MemoryDriver) AddEntity(entity *MemoryEntity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities = append(m.entities, entity)
}

// AddRelationship seeds a relationship.
func (m *MemoryDriver) AddRelationship(rel *MemoryRelationship) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relationships = append(m.relationships, rel)
}

// AddCommunity seeds a community report.
func (m *MemoryDriver) AddCommunity(community *MemoryCommunity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.communities = append(m.communities, community)
}

// AddChunk seeds a text chunk.
func (m *MemoryDriver) AddChunk(chunk *MemoryChunk) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, chunk)
}

// ResolveEntity matches the name or aliases against entity titles and
// aliases, case-insensitively.
func (m *MemoryDriver) ResolveEntity(ctx context.Context, name string, aliases []string) ([]*EntityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[string]bool, len(aliases)+1)
	for _, a := range aliases {
		wanted[strings.ToLower(strings.TrimSpace(a))] = true
	}
	nameKey := strings.ToLower(strings.TrimSpace(name))

	var out []*EntityRecord
	for _, e := range m.entities {
		titleKey := strings.ToLower(e.Title)
		score := 0.0
		switch {
		case titleKey == nameKey:
			score = exactMatchScore
		case wanted[titleKey] || matchesAlias(e.Aliases, nameKey, wanted):
			score = aliasMatchScore
		default:
			continue
		}
		out = append(out, &EntityRecord{
			ID:          e.ID,
			Title:       e.Title,
			Description: e.Description,
			Degree:      m.degreeLocked(e.ID),
			Score:       score,
		})
	}

	sortEntities(out)
	return out, nil
}

// EntityRelationships retrieves relationships touching the entities.
func (m *MemoryDriver) EntityRelationships(ctx context.Context, entityIDs []string) ([]*RelationshipRecord, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		ids[id] = true
	}

	var out []*RelationshipRecord
	for _, rel := range m.relationships {
		if !ids[rel.SourceID] && !ids[rel.TargetID] {
			continue
		}
		out = append(out, &RelationshipRecord{
			ID:          rel.ID,
			Source:      m.titleLocked(rel.SourceID),
			Target:      m.titleLocked(rel.TargetID),
			Description: rel.Description,
			Weight:      rel.Weight,
		})
	}

	return out, nil
}

// CommunityReports retrieves reports for communities containing the entities.
func (m *MemoryDriver) CommunityReports(ctx context.Context, entityIDs []string, limit int) ([]*CommunityReport, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make(map[string]bool, len(entityIDs))
	for _, id := range entityIDs {
		ids[id] = true
	}

	var matched []*MemoryCommunity
	for _, c := range m.communities {
		for _, member := range c.MemberIDs {
			if ids[member] {
				matched = append(matched, c)
				break
			}
		}
	}

	return m.reportsFrom(matched, limit), nil
}

// TopCommunityReports retrieves the highest-level reports in the store.
func (m *MemoryDriver) TopCommunityReports(ctx context.Context, limit int) ([]*CommunityReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reportsFrom(m.communities, limit), nil
}

// SearchChunksByVector returns chunks nearest to the vector by cosine
// similarity, ties broken by lexicographically smaller id.
func (m *MemoryDriver) SearchChunksByVector(ctx context.Context, vector []float32, limit int) ([]*ChunkRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ChunkRecord, 0, len(m.chunks))
	for _, c := range m.chunks {
		out = append(out, &ChunkRecord{
			ID:    c.ID,
			Text:  c.Text,
			Score: cosineSimilarity(vector, c.Embedding),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchEntitiesByVector returns entities nearest to the vector.
func (m *MemoryDriver) SearchEntitiesByVector(ctx context.Context, vector []float32, limit int) ([]*EntityRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*EntityRecord, 0, len(m.entities))
	for _, e := range m.entities {
		if len(e.Embedding) == 0 {
			continue
		}
		out = append(out, &EntityRecord{
			ID:          e.ID,
			Title:       e.Title,
			Description: e.Description,
			Degree:      m.degreeLocked(e.ID),
			Score:       cosineSimilarity(vector, e.Embedding),
		})
	}

	sortEntities(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Provider returns the graph database backend type.
func (m *MemoryDriver) Provider() GraphProvider {
	return GraphProviderMemory
}

// Close is a no-op for the in-memory driver.
func (m *MemoryDriver) Close(ctx context.Context) error {
	return nil
}

func (m *MemoryDriver) reportsFrom(communities []*MemoryCommunity, limit int) []*CommunityReport {
	out := make([]*CommunityReport, 0, len(communities))
	for _, c := range communities {
		if c.Summary == "" {
			continue
		}
		out = append(out, &CommunityReport{
			ID:          c.ID,
			Community:   c.ID,
			Level:       c.Level,
			Title:       c.Title,
			Summary:     c.Summary,
			Rank:        c.Rank,
			FullContent: c.FullContent,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level > out[j].Level
		}
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *MemoryDriver) degreeLocked(entityID string) int {
	degree := 0
	for _, rel := range m.relationships {
		if rel.SourceID == entityID || rel.TargetID == entityID {
			degree++
		}
	}
	return degree
}

func (m *MemoryDriver) titleLocked(entityID string) string {
	for _, e := range m.entities {
		if e.ID == entityID {
			return e.Title
		}
	}
	return entityID
}

func matchesAlias(entityAliases []string, nameKey string, wanted map[string]bool) bool {
	for _, a := range entityAliases {
		key := strings.ToLower(strings.TrimSpace(a))
		if key == nameKey || wanted[key] {
			return true
		}
	}
	return false
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
