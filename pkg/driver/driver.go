// Package driver provides read access to the graph store populated by the
// external indexing pipeline. The store holds entities, relationships,
// community reports at multiple granularity levels, and two vector spaces:
// entity-graph embeddings and text-chunk embeddings.
//
// The graph query agent is the sole caller of this package.
package driver

import (
	"context"
)

// GraphProvider represents the type of graph database backend.
type GraphProvider string

const (
	GraphProviderNeo4j  GraphProvider = "neo4j"
	GraphProviderMemory GraphProvider = "memory"
)

// EntityRecord is an entity node as stored by the indexing pipeline.
// Score is the match or similarity score assigned by the lookup that
// produced the record; it is only meaningful within that one call.
type EntityRecord struct {
	ID          string
	Title       string
	Description string
	Degree      int
	Score       float64
}

// RelationshipRecord is a relationship between two entities.
type RelationshipRecord struct {
	ID          string
	Source      string
	Target      string
	Description string
	Weight      float64
}

// CommunityReport is a generated synopsis covering a detected cluster of
// related entities at a given granularity level.
type CommunityReport struct {
	ID          string
	Community   string
	Level       int
	Title       string
	Summary     string
	Rank        float64
	FullContent string
}

// ChunkRecord is a text unit with its vector-similarity score.
type ChunkRecord struct {
	ID    string
	Text  string
	Score float64
}

// GraphDriver is the read interface over the graph store. Implementations
// must be safe for concurrent use by independent sessions. Lookups that find
// nothing return empty results, not errors.
type GraphDriver interface {
	// ResolveEntity finds entity nodes matching a name or any of its
	// aliases, ordered by descending match score.
	ResolveEntity(ctx context.Context, name string, aliases []string) ([]*EntityRecord, error)

	// EntityRelationships retrieves relationships touching the given
	// entities.
	EntityRelationships(ctx context.Context, entityIDs []string) ([]*RelationshipRecord, error)

	// CommunityReports retrieves community reports covering the given
	// entities, highest granularity level first, ties broken by rank.
	CommunityReports(ctx context.Context, entityIDs []string, limit int) ([]*CommunityReport, error)

	// TopCommunityReports retrieves the highest-level reports in the store,
	// used when no entities could be resolved.
	TopCommunityReports(ctx context.Context, limit int) ([]*CommunityReport, error)

	// SearchChunksByVector returns text chunks nearest to the vector by
	// cosine similarity.
	SearchChunksByVector(ctx context.Context, vector []float32, limit int) ([]*ChunkRecord, error)

	// SearchEntitiesByVector returns entities nearest to the vector in the
	// entity-graph embedding space.
	SearchEntitiesByVector(ctx context.Context, vector []float32, limit int) ([]*EntityRecord, error)

	// Provider returns the type of graph database backend.
	Provider() GraphProvider

	// Close releases all resources held by the driver.
	Close(ctx context.Context) error
}
