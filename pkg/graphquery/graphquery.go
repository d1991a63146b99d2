// Package graphquery implements the graph query agent. It resolves entity
// mentions against the graph store, retrieves community summaries, and runs
// vector-similarity lookups over the two embedding spaces produced by the
// external indexing pipeline.
package graphquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/soundprediction/graphqa/pkg/driver"
	"github.com/soundprediction/graphqa/pkg/embedder"
	"github.com/soundprediction/graphqa/pkg/types"
)

// Graph query failure kinds.
var (
	// ErrGraphUnavailable indicates the graph store could not be reached.
	ErrGraphUnavailable = errors.New("graph unavailable: store unreachable")

	// ErrGraphQueryInvalid indicates the resolved query is malformed, e.g.
	// an entity lookup with neither mentions nor raw query text.
	ErrGraphQueryInvalid = errors.New("graph query invalid")
)

// scoreEpsilon is the tie window for ambiguity detection: two candidate
// nodes whose scores differ by less than this are considered equally scored.
const scoreEpsilon = 1e-6

const defaultLimit = 20

// Agent retrieves graph evidence for the orchestrator.
type Agent struct {
	driver   driver.GraphDriver
	embedder embedder.Client
	logger   *slog.Logger
}

// New creates a graph query agent over the given store and embedder.
func New(graphDriver driver.GraphDriver, embedderClient embedder.Client, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		driver:   graphDriver,
		embedder: embedderClient,
		logger:   logger,
	}
}

// Query retrieves evidence for the request. Finding nothing returns an empty
// result, not an error. Identical requests against an unchanged store return
// identical evidence sets.
func (a *Agent) Query(ctx context.Context, req types.GraphQueryRequest) (*types.GraphQueryResult, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	switch req.Mode {
	case types.ModeEntityLookup:
		return a.entityLookup(ctx, req, limit)
	case types.ModeCommunitySummary:
		return a.communitySummary(ctx, req, limit)
	case types.ModeVectorSimilarity:
		return a.vectorSimilarity(ctx, req, limit)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrGraphQueryInvalid, req.Mode)
	}
}

// entityLookup resolves mentions to nodes by exact or alias match, falling
// back to the entity embedding space for mentions the store does not know by
// name, then pulls the relationships of everything resolved.
func (a *Agent) entityLookup(ctx context.Context, req types.GraphQueryRequest, limit int) (*types.GraphQueryResult, error) {
	if len(req.Mentions) == 0 && strings.TrimSpace(req.RawQuery) == "" {
		return nil, fmt.Errorf("%w: entity lookup requires mentions or raw query text", ErrGraphQueryInvalid)
	}

	result := &types.GraphQueryResult{}
	var resolvedIDs []string
	// Relationship evidence inherits the resolution score of the entity it
	// was reached through.
	scoreByID := make(map[string]float64)

	appendEntity := func(record *driver.EntityRecord, mentionKey string) {
		identifier := types.EvidenceID(types.SourceTypeNode, record.ID)
		result.Items = append(result.Items, types.EvidenceItem{
			SourceType: types.SourceTypeNode,
			Identifier: identifier,
			Payload: map[string]any{
				"id":          record.ID,
				"title":       record.Title,
				"description": record.Description,
				"degree":      record.Degree,
			},
			RelevanceScore: record.Score,
		})
		resolvedIDs = append(resolvedIDs, record.ID)
		if record.Score > scoreByID[record.ID] {
			scoreByID[record.ID] = record.Score
		}
		if mentionKey != "" {
			result.ResolvedMentions = append(result.ResolvedMentions, mentionKey)
		}
	}

	for _, mention := range req.Mentions {
		candidates, err := a.driver.ResolveEntity(ctx, mention.Name, mention.Aliases)
		if err != nil {
			return nil, a.storeError("entity resolution", err)
		}

		if len(candidates) == 0 {
			fallback, err := a.entityVectorFallback(ctx, mention.Name, limit)
			if err != nil {
				return nil, err
			}
			if fallback != nil {
				appendEntity(fallback, mention.NormalizedName())
			}
			continue
		}

		if ambiguous := tiedCandidates(candidates); len(ambiguous) > 1 {
			names := make([]string, 0, len(ambiguous))
			for _, c := range ambiguous {
				names = append(names, c.Title)
			}
			result.AmbiguousMentions = append(result.AmbiguousMentions, types.AmbiguousMention{
				Name:       mention.Name,
				Candidates: names,
			})
			// Keep all tied candidates as evidence; disambiguation may
			// narrow them on a later turn.
			for _, c := range ambiguous {
				appendEntity(c, mention.NormalizedName())
			}
			continue
		}

		appendEntity(candidates[0], mention.NormalizedName())
	}

	// No mentions resolved anything; try the raw query against the entity
	// embedding space before giving up.
	if len(resolvedIDs) == 0 && strings.TrimSpace(req.RawQuery) != "" {
		fallback, err := a.entityVectorFallback(ctx, req.RawQuery, limit)
		if err != nil {
			return nil, err
		}
		if fallback != nil {
			appendEntity(fallback, "")
		}
	}

	if len(resolvedIDs) == 0 {
		return result, nil
	}

	relationships, err := a.driver.EntityRelationships(ctx, resolvedIDs)
	if err != nil {
		return nil, a.storeError("relationship retrieval", err)
	}
	relScore := relationshipScore(scoreByID)
	for _, rel := range relationships {
		result.Items = append(result.Items, types.EvidenceItem{
			SourceType: types.SourceTypeRelationship,
			Identifier: types.EvidenceID(types.SourceTypeRelationship, rel.ID),
			Payload: map[string]any{
				"id":          rel.ID,
				"source":      rel.Source,
				"target":      rel.Target,
				"description": rel.Description,
				"weight":      rel.Weight,
			},
			RelevanceScore: relScore,
		})
	}

	return result, nil
}

// communitySummary retrieves the highest-level community reports covering
// the resolved nodes, or the store's top reports when nothing resolves.
func (a *Agent) communitySummary(ctx context.Context, req types.GraphQueryRequest, limit int) (*types.GraphQueryResult, error) {
	result := &types.GraphQueryResult{}

	var entityIDs []string
	for _, mention := range req.Mentions {
		candidates, err := a.driver.ResolveEntity(ctx, mention.Name, mention.Aliases)
		if err != nil {
			return nil, a.storeError("entity resolution", err)
		}
		if len(candidates) > 0 {
			entityIDs = append(entityIDs, candidates[0].ID)
			result.ResolvedMentions = append(result.ResolvedMentions, mention.NormalizedName())
		}
	}

	var reports []*driver.CommunityReport
	var err error
	if len(entityIDs) > 0 {
		reports, err = a.driver.CommunityReports(ctx, entityIDs, limit)
	} else {
		reports, err = a.driver.TopCommunityReports(ctx, limit)
	}
	if err != nil {
		return nil, a.storeError("community report retrieval", err)
	}

	for _, report := range reports {
		result.Items = append(result.Items, types.EvidenceItem{
			SourceType: types.SourceTypeCommunitySummary,
			Identifier: types.EvidenceID(types.SourceTypeCommunitySummary, report.ID),
			Payload: map[string]any{
				"community": report.Community,
				"level":     report.Level,
				"title":     report.Title,
				"summary":   report.Summary,
				"rank":      report.Rank,
			},
			RelevanceScore: rankScore(report.Rank),
		})
	}

	return result, nil
}

// vectorSimilarity embeds the raw query (or the concatenated mention names)
// into the text-chunk vector space and returns nearest neighbors by cosine
// similarity, ties broken by lexicographically smaller identifier.
func (a *Agent) vectorSimilarity(ctx context.Context, req types.GraphQueryRequest, limit int) (*types.GraphQueryResult, error) {
	text := strings.TrimSpace(req.RawQuery)
	if text == "" {
		names := make([]string, 0, len(req.Mentions))
		for _, m := range req.Mentions {
			names = append(names, m.Name)
		}
		text = strings.TrimSpace(strings.Join(names, " "))
	}
	if text == "" {
		return nil, fmt.Errorf("%w: vector similarity requires raw query text or mentions", ErrGraphQueryInvalid)
	}
	if a.embedder == nil {
		return nil, fmt.Errorf("%w: vector similarity requires an embedder", ErrGraphQueryInvalid)
	}

	vector, err := a.embedder.EmbedSingle(ctx, strings.ReplaceAll(text, "\n", " "))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: query embedding failed: %w", ErrGraphUnavailable, err)
	}

	chunks, err := a.driver.SearchChunksByVector(ctx, vector, limit)
	if err != nil {
		return nil, a.storeError("chunk vector search", err)
	}

	result := &types.GraphQueryResult{}
	for _, chunk := range chunks {
		result.Items = append(result.Items, types.EvidenceItem{
			SourceType: types.SourceTypeNode,
			Identifier: types.EvidenceID(types.SourceTypeNode, chunk.ID),
			Payload: map[string]any{
				"id":   chunk.ID,
				"kind": "chunk",
				"text": chunk.Text,
			},
			RelevanceScore: chunk.Score,
		})
	}

	return result, nil
}

// entityVectorFallback returns the nearest entity in the entity embedding
// space, or nil when the space is empty or no embedder is configured.
func (a *Agent) entityVectorFallback(ctx context.Context, text string, limit int) (*driver.EntityRecord, error) {
	if a.embedder == nil {
		return nil, nil
	}
	vector, err := a.embedder.EmbedSingle(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: mention embedding failed: %w", ErrGraphUnavailable, err)
	}

	entities, err := a.driver.SearchEntitiesByVector(ctx, vector, limit)
	if err != nil {
		return nil, a.storeError("entity vector search", err)
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return entities[0], nil
}

func (a *Agent) storeError(operation string, err error) error {
	a.logger.Warn("graph store operation failed", "operation", operation, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrGraphUnavailable, operation, err)
}

// tiedCandidates returns the leading candidates whose scores tie with the
// best one within epsilon. A single leader returns a one-element slice.
func tiedCandidates(candidates []*driver.EntityRecord) []*driver.EntityRecord {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0].Score
	var tied []*driver.EntityRecord
	for _, c := range candidates {
		if math.Abs(c.Score-best) < scoreEpsilon {
			tied = append(tied, c)
		}
	}
	return tied
}

// relationshipScore attenuates the strongest resolution score of the call so
// a relationship never outranks the node that surfaced it.
func relationshipScore(scoreByID map[string]float64) float64 {
	best := 0.0
	for _, score := range scoreByID {
		if score > best {
			best = score
		}
	}
	if best == 0 {
		return 0.5
	}
	return best * 0.95
}

// rankScore maps a community report rank (0-10 in practice) into [0,1].
func rankScore(rank float64) float64 {
	score := rank / 10
	if score <= 0 {
		return 0.5
	}
	if score > 1 {
		return 1
	}
	return score
}
