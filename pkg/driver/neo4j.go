package driver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Vector index names created by the loading pipeline.
const (
	entityVectorIndex = "entity_embedding"
	chunkVectorIndex  = "chunk_embedding"
)

// Match scores for name resolution. Exact title matches outrank alias
// matches within one resolution call.
const (
	exactMatchScore = 1.0
	aliasMatchScore = 0.9
)

// Neo4jDriver implements the GraphDriver interface against a Neo4j database
// loaded with the indexing pipeline's artifacts: __Entity__, __Chunk__ and
// __Community__ nodes connected by RELATED, HAS_ENTITY and IN_COMMUNITY
// relationships.
type Neo4jDriver struct {
	client   neo4j.DriverWithContext
	database string
}

// NewNeo4jDriver creates a new Neo4j driver instance.
func NewNeo4jDriver(uri, username, password, database string) (*Neo4jDriver, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	if database == "" {
		database = "neo4j"
	}

	return &Neo4jDriver{
		client:   driver,
		database: database,
	}, nil
}

// ResolveEntity finds entities whose title matches the name or an alias.
func (n *Neo4jDriver) ResolveEntity(ctx context.Context, name string, aliases []string) ([]*EntityRecord, error) {
	lowered := make([]string, 0, len(aliases))
	for _, a := range aliases {
		lowered = append(lowered, strings.ToLower(a))
	}

	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (e:__Entity__)
			WHERE toLower(e.title) = toLower($name) OR toLower(e.title) IN $aliases
			OPTIONAL MATCH (e)-[r:RELATED]-()
			RETURN e.id AS id, e.title AS title, coalesce(e.description, '') AS description,
			       count(r) AS degree
		`
		res, err := tx.Run(ctx, query, map[string]any{
			"name":    name,
			"aliases": lowered,
		})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("entity resolution query failed: %w", err)
	}

	records := result.([]*neo4j.Record)
	entities := make([]*EntityRecord, 0, len(records))
	for _, record := range records {
		entity := &EntityRecord{
			ID:          stringValue(record, "id"),
			Title:       stringValue(record, "title"),
			Description: stringValue(record, "description"),
			Degree:      intValue(record, "degree"),
		}
		entity.Score = aliasMatchScore
		if strings.EqualFold(entity.Title, name) {
			entity.Score = exactMatchScore
		}
		entities = append(entities, entity)
	}

	sortEntities(entities)
	return entities, nil
}

// EntityRelationships retrieves RELATED relationships touching the entities.
func (n *Neo4jDriver) EntityRelationships(ctx context.Context, entityIDs []string) ([]*RelationshipRecord, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (s:__Entity__)-[r:RELATED]-(t:__Entity__)
			WHERE s.id IN $ids
			RETURN DISTINCT r.id AS id, s.title AS source, t.title AS target,
			       coalesce(r.description, '') AS description,
			       coalesce(r.weight, 0.0) AS weight
		`
		res, err := tx.Run(ctx, query, map[string]any{"ids": entityIDs})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("relationship query failed: %w", err)
	}

	records := result.([]*neo4j.Record)
	relationships := make([]*RelationshipRecord, 0, len(records))
	for _, record := range records {
		relationships = append(relationships, &RelationshipRecord{
			ID:          stringValue(record, "id"),
			Source:      stringValue(record, "source"),
			Target:      stringValue(record, "target"),
			Description: stringValue(record, "description"),
			Weight:      floatValue(record, "weight"),
		})
	}

	return relationships, nil
}

// CommunityReports retrieves reports for communities containing the entities.
func (n *Neo4jDriver) CommunityReports(ctx context.Context, entityIDs []string, limit int) ([]*CommunityReport, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}

	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (e:__Entity__)-[:IN_COMMUNITY]->(c:__Community__)
			WHERE e.id IN $ids AND c.summary IS NOT NULL
			RETURN DISTINCT c.community AS community, coalesce(c.level, 0) AS level,
			       coalesce(c.title, '') AS title, c.summary AS summary,
			       coalesce(c.rank, 0.0) AS rank, coalesce(c.full_content, '') AS full_content
			ORDER BY level DESC, rank DESC
			LIMIT $limit
		`
		res, err := tx.Run(ctx, query, map[string]any{
			"ids":   entityIDs,
			"limit": limit,
		})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("community report query failed: %w", err)
	}

	return communityReportsFromRecords(result.([]*neo4j.Record)), nil
}

// TopCommunityReports retrieves the highest-level reports in the store.
func (n *Neo4jDriver) TopCommunityReports(ctx context.Context, limit int) ([]*CommunityReport, error) {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			MATCH (c:__Community__)
			WHERE c.summary IS NOT NULL
			RETURN c.community AS community, coalesce(c.level, 0) AS level,
			       coalesce(c.title, '') AS title, c.summary AS summary,
			       coalesce(c.rank, 0.0) AS rank, coalesce(c.full_content, '') AS full_content
			ORDER BY level DESC, rank DESC
			LIMIT $limit
		`
		res, err := tx.Run(ctx, query, map[string]any{"limit": limit})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("top community report query failed: %w", err)
	}

	return communityReportsFromRecords(result.([]*neo4j.Record)), nil
}

// SearchChunksByVector performs vector similarity search over text chunks.
func (n *Neo4jDriver) SearchChunksByVector(ctx context.Context, vector []float32, limit int) ([]*ChunkRecord, error) {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			CALL db.index.vector.queryNodes($index, $k, $vector)
			YIELD node, score
			RETURN node.id AS id, coalesce(node.text, '') AS text, score
		`
		res, err := tx.Run(ctx, query, map[string]any{
			"index":  chunkVectorIndex,
			"k":      limit,
			"vector": toFloat64Slice(vector),
		})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("chunk vector query failed: %w", err)
	}

	records := result.([]*neo4j.Record)
	chunks := make([]*ChunkRecord, 0, len(records))
	for _, record := range records {
		chunks = append(chunks, &ChunkRecord{
			ID:    stringValue(record, "id"),
			Text:  stringValue(record, "text"),
			Score: floatValue(record, "score"),
		})
	}

	// The index returns score order; make the tie-break deterministic.
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].ID < chunks[j].ID
	})
	return chunks, nil
}

// SearchEntitiesByVector performs vector similarity search over entities.
func (n *Neo4jDriver) SearchEntitiesByVector(ctx context.Context, vector []float32, limit int) ([]*EntityRecord, error) {
	session := n.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: n.database})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		query := `
			CALL db.index.vector.queryNodes($index, $k, $vector)
			YIELD node, score
			RETURN node.id AS id, node.title AS title,
			       coalesce(node.description, '') AS description, score
		`
		res, err := tx.Run(ctx, query, map[string]any{
			"index":  entityVectorIndex,
			"k":      limit,
			"vector": toFloat64Slice(vector),
		})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("entity vector query failed: %w", err)
	}

	records := result.([]*neo4j.Record)
	entities := make([]*EntityRecord, 0, len(records))
	for _, record := range records {
		entities = append(entities, &EntityRecord{
			ID:          stringValue(record, "id"),
			Title:       stringValue(record, "title"),
			Description: stringValue(record, "description"),
			Score:       floatValue(record, "score"),
		})
	}

	sortEntities(entities)
	return entities, nil
}

// Provider returns the graph database backend type.
func (n *Neo4jDriver) Provider() GraphProvider {
	return GraphProviderNeo4j
}

// Close releases the underlying driver.
func (n *Neo4jDriver) Close(ctx context.Context) error {
	return n.client.Close(ctx)
}

func communityReportsFromRecords(records []*neo4j.Record) []*CommunityReport {
	reports := make([]*CommunityReport, 0, len(records))
	for _, record := range records {
		community := stringValue(record, "community")
		reports = append(reports, &CommunityReport{
			ID:          community,
			Community:   community,
			Level:       intValue(record, "level"),
			Title:       stringValue(record, "title"),
			Summary:     stringValue(record, "summary"),
			Rank:        floatValue(record, "rank"),
			FullContent: stringValue(record, "full_content"),
		})
	}
	return reports
}

func sortEntities(entities []*EntityRecord) {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Score != entities[j].Score {
			return entities[i].Score > entities[j].Score
		}
		return entities[i].ID < entities[j].ID
	})
}

func stringValue(record *neo4j.Record, key string) string {
	value, found := record.Get(key)
	if !found || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", value)
}

func intValue(record *neo4j.Record, key string) int {
	value, found := record.Get(key)
	if !found || value == nil {
		return 0
	}
	switch v := value.(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func floatValue(record *neo4j.Record, key string) float64 {
	value, found := record.Get(key)
	if !found || value == nil {
		return 0
	}
	switch v := value.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func toFloat64Slice(vector []float32) []float64 {
	out := make([]float64, len(vector))
	for i, v := range vector {
		out[i] = float64(v)
	}
	return out
}
