package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/graphqa/pkg/extractor"
	"github.com/soundprediction/graphqa/pkg/graphquery"
	"github.com/soundprediction/graphqa/pkg/types"
)

// stubExtractor replays scripted results and records hints it was given.
type stubExtractor struct {
	mu      sync.Mutex
	results []*types.ExtractionResult
	errs    []error
	calls   int
	hints   []string
}

func (s *stubExtractor) Extract(ctx context.Context, req types.ExtractionRequest) (*types.ExtractionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	s.hints = append(s.hints, req.DisambiguationHint)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	if n := len(s.results); n > 0 {
		return s.results[n-1], nil
	}
	return &types.ExtractionResult{}, nil
}

type graphReply struct {
	res *types.GraphQueryResult
	err error
}

// stubGraph replays scripted replies and records requested modes.
type stubGraph struct {
	mu      sync.Mutex
	replies []graphReply
	calls   int
	modes   []types.QueryMode
	block   bool // block until the call context is cancelled
}

func (s *stubGraph) Query(ctx context.Context, req types.GraphQueryRequest) (*types.GraphQueryResult, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.modes = append(s.modes, req.Mode)
	block := s.block
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if i < len(s.replies) {
		return s.replies[i].res, s.replies[i].err
	}
	if n := len(s.replies); n > 0 {
		return s.replies[n-1].res, s.replies[n-1].err
	}
	return &types.GraphQueryResult{}, nil
}

// recordingTrail captures transitions for assertions.
type recordingTrail struct {
	mu          sync.Mutex
	transitions []types.Transition
}

func (r *recordingTrail) Record(tr types.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, tr)
}

func (r *recordingTrail) Close() error { return nil }

func (r *recordingTrail) triggers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.transitions))
	for _, tr := range r.transitions {
		out = append(out, tr.Trigger)
	}
	return out
}

func fastConfig() *types.SessionConfig {
	return &types.SessionConfig{
		SufficiencyThreshold: 0.6,
		ConfidenceThreshold:  0.5,
		MaxTurns:             3,
		PerCallTimeout:       time.Second,
		MaxRetries:           2,
		RetryBackoff:         time.Millisecond,
		EvidenceLimit:        20,
	}
}

func wonderlandExtraction() *types.ExtractionResult {
	return &types.ExtractionResult{Mentions: []types.EntityMention{
		{Name: "White Rabbit", Confidence: 0.9},
		{Name: "Alice", Confidence: 0.8},
	}}
}

func wonderlandEvidence() *types.GraphQueryResult {
	return &types.GraphQueryResult{
		Items: []types.EvidenceItem{
			{
				SourceType:     types.SourceTypeNode,
				Identifier:     "node:e1",
				Payload:        map[string]any{"title": "White Rabbit", "description": "A hurried herald of the Queen."},
				RelevanceScore: 1.0,
			},
			{
				SourceType:     types.SourceTypeRelationship,
				Identifier:     "relationship:r1",
				Payload:        map[string]any{"description": "The White Rabbit serves the Queen of Hearts."},
				RelevanceScore: 0.95,
			},
		},
		ResolvedMentions: []string{"white rabbit", "alice"},
	}
}

func TestRun_AnswersInOneTurn(t *testing.T) {
	ext := &stubExtractor{results: []*types.ExtractionResult{wonderlandExtraction()}}
	graph := &stubGraph{replies: []graphReply{{res: wonderlandEvidence()}}}
	trail := &recordingTrail{}

	orch := New(ext, graph, nil, trail, nil)
	answer, err := orch.Run(context.Background(), "Who does the White Rabbit serve?", fastConfig())
	require.NoError(t, err)
	require.NotNil(t, answer)

	assert.Equal(t, []string{"node:e1", "relationship:r1"}, answer.CitedEvidenceIDs)
	assert.False(t, answer.LowConfidence)
	assert.NotEmpty(t, answer.Text)

	assert.Equal(t, 1, ext.calls)
	assert.Equal(t, 1, graph.calls)
	assert.Equal(t, []types.QueryMode{types.ModeEntityLookup}, graph.modes)

	assert.Equal(t, []string{
		"query_submitted",
		"mentions_extracted",
		"evidence_returned",
		"evidence_sufficient",
		"answer_composed",
	}, trail.triggers())
}

func TestRun_EmptyQueryRejected(t *testing.T) {
	orch := New(&stubExtractor{}, &stubGraph{}, nil, nil, nil)

	_, err := orch.Run(context.Background(), "   ", fastConfig())
	assert.ErrorIs(t, err, types.ErrEmptyQuery)
}

func TestRun_BudgetExhaustionDegradesToLowConfidence(t *testing.T) {
	// Entity absent from the graph: every retrieval comes back empty.
	ext := &stubExtractor{results: []*types.ExtractionResult{{
		Mentions: []types.EntityMention{{Name: "Cheshire Cat", Confidence: 0.9}},
	}}}
	graph := &stubGraph{replies: []graphReply{{res: &types.GraphQueryResult{}}}}
	trail := &recordingTrail{}

	orch := New(ext, graph, nil, trail, nil)
	answer, err := orch.Run(context.Background(), "Where is the Cheshire Cat?", fastConfig())
	require.NoError(t, err, "an unanswerable query degrades, never fails")
	require.NotNil(t, answer)

	assert.True(t, answer.LowConfidence)
	assert.Empty(t, answer.CitedEvidenceIDs)
	assert.NotEmpty(t, answer.Text)

	// One retrieval per turn up to the budget, escalating modes
	assert.Equal(t, 3, graph.calls)
	assert.Equal(t, []types.QueryMode{
		types.ModeEntityLookup,
		types.ModeCommunitySummary,
		types.ModeVectorSimilarity,
	}, graph.modes)

	// The turn counter never exceeds the budget
	for _, tr := range trail.transitions {
		assert.LessOrEqual(t, tr.Turn, 3)
	}
	assert.Contains(t, trail.triggers(), "turn_budget_exhausted")
}

func TestRun_TransientGraphFailureRecovers(t *testing.T) {
	ext := &stubExtractor{results: []*types.ExtractionResult{wonderlandExtraction()}}
	graph := &stubGraph{replies: []graphReply{
		{err: graphquery.ErrGraphUnavailable},
		{err: graphquery.ErrGraphUnavailable},
		{res: wonderlandEvidence()},
	}}

	orch := New(ext, graph, nil, nil, nil)
	answer, err := orch.Run(context.Background(), "Who does the White Rabbit serve?", fastConfig())
	require.NoError(t, err)

	assert.Equal(t, 3, graph.calls, "two transient failures consumed, third attempt succeeded")
	assert.False(t, answer.LowConfidence)
	assert.Equal(t, []string{"node:e1", "relationship:r1"}, answer.CitedEvidenceIDs)
}

func TestRun_RetryExhaustionFailsSession(t *testing.T) {
	ext := &stubExtractor{results: []*types.ExtractionResult{wonderlandExtraction()}}
	graph := &stubGraph{replies: []graphReply{{err: graphquery.ErrGraphUnavailable}}}

	orch := New(ext, graph, nil, nil, nil)
	answer, err := orch.Run(context.Background(), "Who does the White Rabbit serve?", fastConfig())
	require.Error(t, err)
	assert.Nil(t, answer, "a failed session surfaces no partial answer")

	report, ok := AsFailureReport(err)
	require.True(t, ok)
	assert.Equal(t, types.FailureGraphUnavailable, report.Kind)
	assert.Equal(t, types.StateQueryingGraph, report.LastState)
	assert.Equal(t, 1, report.TurnCount)

	// Initial attempt plus the full retry budget
	assert.Equal(t, 3, graph.calls)
}

func TestRun_MalformedExtractionFailsWithoutRetry(t *testing.T) {
	ext := &stubExtractor{errs: []error{extractor.ErrExtractionMalformed, extractor.ErrExtractionMalformed}}
	graph := &stubGraph{}

	orch := New(ext, graph, nil, nil, nil)
	_, err := orch.Run(context.Background(), "anything", fastConfig())
	require.Error(t, err)

	report, ok := AsFailureReport(err)
	require.True(t, ok)
	assert.Equal(t, types.FailureExtractionMalformed, report.Kind)
	assert.Equal(t, types.StateExtractingEntities, report.LastState)

	assert.Equal(t, 1, ext.calls, "malformed output escalates without retry")
	assert.Equal(t, 0, graph.calls)
}

func TestRun_AmbiguityTriggersConcurrentRefinement(t *testing.T) {
	ext := &stubExtractor{results: []*types.ExtractionResult{
		{Mentions: []types.EntityMention{{Name: "White Rabbit", Confidence: 0.9}}},
		{Mentions: []types.EntityMention{{Name: "White Rabbit II", Confidence: 0.85}}},
	}}
	graph := &stubGraph{replies: []graphReply{
		{res: &types.GraphQueryResult{
			Items: []types.EvidenceItem{{
				SourceType:     types.SourceTypeNode,
				Identifier:     "node:e1",
				Payload:        map[string]any{"description": "One of two rabbits."},
				RelevanceScore: 0.4,
			}},
			AmbiguousMentions: []types.AmbiguousMention{{
				Name:       "White Rabbit",
				Candidates: []string{"White Rabbit", "White Rabbit II"},
			}},
		}},
		{res: &types.GraphQueryResult{
			Items: []types.EvidenceItem{{
				SourceType:     types.SourceTypeNode,
				Identifier:     "node:e4",
				Payload:        map[string]any{"description": "The second rabbit, definitively."},
				RelevanceScore: 0.9,
			}},
			ResolvedMentions: []string{"white rabbit", "white rabbit ii"},
		}},
	}}
	trail := &recordingTrail{}

	orch := New(ext, graph, nil, trail, nil)
	answer, err := orch.Run(context.Background(), "Which white rabbit serves the queen?", fastConfig())
	require.NoError(t, err)

	// Re-extraction carried the candidate hint
	require.Equal(t, 2, ext.calls)
	assert.Empty(t, ext.hints[0])
	assert.Contains(t, ext.hints[1], "White Rabbit II")

	// The broadened retrieval ran alongside the re-extraction
	require.Equal(t, 2, graph.calls)
	assert.Equal(t, types.ModeCommunitySummary, graph.modes[1])

	// Both refinement results merged before evaluation
	assert.Equal(t, []string{"node:e1", "node:e4"}, answer.CitedEvidenceIDs)
	assert.False(t, answer.LowConfidence)
	assert.Contains(t, trail.triggers(), "ambiguity_and_coverage_gap")
}

func TestRun_CancellationAbortsSession(t *testing.T) {
	ext := &stubExtractor{results: []*types.ExtractionResult{wonderlandExtraction()}}
	graph := &stubGraph{block: true}
	trail := &recordingTrail{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	orch := New(ext, graph, nil, trail, nil)
	answer, err := orch.Run(ctx, "Who does the White Rabbit serve?", fastConfig())
	require.Error(t, err)
	assert.Nil(t, answer)

	report, ok := AsFailureReport(err)
	require.True(t, ok)
	assert.Equal(t, types.FailureSessionAborted, report.Kind)

	triggers := trail.triggers()
	require.NotEmpty(t, triggers)
	assert.Equal(t, "cancelled", triggers[len(triggers)-1])
}

func TestRun_CancellationBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := New(&stubExtractor{}, &stubGraph{}, nil, nil, nil)
	_, err := orch.Run(ctx, "anything", fastConfig())
	require.Error(t, err)

	report, ok := AsFailureReport(err)
	require.True(t, ok)
	assert.Equal(t, types.FailureSessionAborted, report.Kind)
	assert.Equal(t, 0, report.TurnCount)
}

func TestRun_PerCallTimeoutRetriesThenFails(t *testing.T) {
	cfg := fastConfig()
	cfg.PerCallTimeout = 10 * time.Millisecond
	cfg.MaxRetries = 1

	ext := &stubExtractor{results: []*types.ExtractionResult{wonderlandExtraction()}}
	graph := &stubGraph{block: true}

	orch := New(ext, graph, nil, nil, nil)
	_, err := orch.Run(context.Background(), "Who does the White Rabbit serve?", cfg)
	require.Error(t, err)

	report, ok := AsFailureReport(err)
	require.True(t, ok)
	assert.Equal(t, types.FailureGraphUnavailable, report.Kind)
	assert.Equal(t, 2, graph.calls, "timeout is transient: one retry before giving up")
}

func TestRun_EvidenceReferentialIntegrity(t *testing.T) {
	ext := &stubExtractor{results: []*types.ExtractionResult{wonderlandExtraction()}}
	graph := &stubGraph{replies: []graphReply{{res: wonderlandEvidence()}}}

	orch := New(ext, graph, nil, nil, nil)
	answer, err := orch.Run(context.Background(), "Who does the White Rabbit serve?", fastConfig())
	require.NoError(t, err)

	retrieved := map[string]bool{}
	for _, item := range wonderlandEvidence().Items {
		retrieved[item.Identifier] = true
	}
	for _, id := range answer.CitedEvidenceIDs {
		assert.True(t, retrieved[id], "cited identifier %s was never retrieved", id)
	}
}
