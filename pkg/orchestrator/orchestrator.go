// Package orchestrator runs the per-query decision loop. It owns the session
// state machine, routes work to the entity extractor and graph query agents,
// judges evidence sufficiency, and synthesizes the final grounded answer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/soundprediction/graphqa/pkg/audit"
	"github.com/soundprediction/graphqa/pkg/extractor"
	"github.com/soundprediction/graphqa/pkg/graphquery"
	"github.com/soundprediction/graphqa/pkg/nlp"
	"github.com/soundprediction/graphqa/pkg/types"
)

// Extractor is the entity extractor agent contract.
type Extractor interface {
	Extract(ctx context.Context, req types.ExtractionRequest) (*types.ExtractionResult, error)
}

// GraphQuerier is the graph query agent contract.
type GraphQuerier interface {
	Query(ctx context.Context, req types.GraphQueryRequest) (*types.GraphQueryResult, error)
}

// FailureError carries the failure report for a session that ended in
// Failed or Aborted. A failed session never surfaces a partial answer.
type FailureError struct {
	Report types.FailureReport
	cause  error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("session failed in state %s: %s: %v", e.Report.LastState, e.Report.Kind, e.cause)
}

func (e *FailureError) Unwrap() error {
	return e.cause
}

// AsFailureReport extracts the failure report from an error returned by Run.
func AsFailureReport(err error) (*types.FailureReport, bool) {
	var failure *FailureError
	if errors.As(err, &failure) {
		return &failure.Report, true
	}
	return nil, false
}

// Orchestrator drives sessions. It holds no per-session state; independent
// sessions may run concurrently.
type Orchestrator struct {
	extractor Extractor
	graph     GraphQuerier
	nlp       nlp.Client
	trail     audit.Trail
	logger    *slog.Logger
}

// New creates an orchestrator. The completion client is used only to word
// the final answer and may be nil; synthesis then falls back to a
// deterministic rendering of the evidence. The trail may be nil to disable
// audit persistence.
func New(extractorAgent Extractor, graphAgent GraphQuerier, nlpClient nlp.Client, trail audit.Trail, logger *slog.Logger) *Orchestrator {
	if trail == nil {
		trail = audit.NopTrail{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		extractor: extractorAgent,
		graph:     graphAgent,
		nlp:       nlpClient,
		trail:     trail,
		logger:    logger,
	}
}

// Run answers one query. It creates a session, drives the state machine to a
// terminal state, and returns either an answer or a *FailureError carrying
// the failure report. Cancelling the context aborts the session and discards
// accumulated evidence.
func (o *Orchestrator) Run(ctx context.Context, query string, config *types.SessionConfig) (*types.Answer, error) {
	if strings.TrimSpace(query) == "" {
		return nil, types.ErrEmptyQuery
	}

	sess := types.NewSession(uuid.New().String(), query, config)
	if err := sess.Config.Validate(); err != nil {
		return nil, err
	}

	answer, runErr := o.run(ctx, sess)
	if runErr != nil {
		lastState := sess.State
		kind := classifyFailure(runErr, lastState)
		if kind == types.FailureSessionAborted {
			sess.Status = types.StatusAborted
			sess.Evidence = nil // partial evidence is discarded, never returned
			o.finalize(sess, "cancelled", types.StateAborted)
		} else {
			sess.Status = types.StatusFailed
			o.finalize(sess, "failure:"+string(kind), types.StateFailed)
		}
		return nil, &FailureError{
			Report: types.FailureReport{
				Kind:      kind,
				LastState: lastState,
				TurnCount: sess.Turn,
			},
			cause: runErr,
		}
	}

	sess.Status = types.StatusAnswered
	return answer, nil
}

// run drives the state machine for one session. On return with an error the
// session state is the state in which the failure occurred.
func (o *Orchestrator) run(ctx context.Context, sess *types.Session) (*types.Answer, error) {
	cfg := sess.Config

	if err := o.transition(ctx, sess, "query_submitted", types.StateExtractingEntities); err != nil {
		return nil, err
	}
	extraction, err := o.callExtractor(ctx, sess, "")
	if err != nil {
		return nil, err
	}
	sess.AddMentions(extraction.Mentions)

	// First retrieval always starts with an entity lookup; refinements
	// broaden to community summaries and then vector similarity.
	mode := types.ModeEntityLookup
	lowConfidence := false
	var pendingAmbiguous []types.AmbiguousMention

	if err := o.transition(ctx, sess, "mentions_extracted", types.StateQueryingGraph); err != nil {
		return nil, err
	}
	sess.Turn++
	result, err := o.callGraph(ctx, sess, mode)
	if err != nil {
		return nil, err
	}
	o.mergeGraphResult(sess, result)
	pendingAmbiguous = result.AmbiguousMentions

	for {
		if err := o.transition(ctx, sess, "evidence_returned", types.StateEvaluating); err != nil {
			return nil, err
		}

		if o.sufficient(sess) {
			if err := o.transition(ctx, sess, "evidence_sufficient", types.StateSynthesizing); err != nil {
				return nil, err
			}
			break
		}
		if sess.Turn >= cfg.MaxTurns {
			// Forced termination: a degraded answer beats no answer.
			lowConfidence = true
			if err := o.transition(ctx, sess, "turn_budget_exhausted", types.StateSynthesizing); err != nil {
				return nil, err
			}
			break
		}

		mode = broaden(mode)
		sess.Turn++

		if len(pendingAmbiguous) > 0 {
			// The disambiguation re-extraction and the broadened graph
			// query are independent; issue both concurrently and merge
			// both before the next evaluation.
			if err := o.transition(ctx, sess, "ambiguity_and_coverage_gap", types.StateExtractingEntities); err != nil {
				return nil, err
			}
			hint := disambiguationHint(pendingAmbiguous)
			g, gctx := errgroup.WithContext(ctx)
			var extractionRes *types.ExtractionResult
			var graphRes *types.GraphQueryResult
			g.Go(func() error {
				res, err := o.callExtractor(gctx, sess, hint)
				if err != nil {
					return err
				}
				extractionRes = res
				return nil
			})
			g.Go(func() error {
				res, err := o.callGraph(gctx, sess, mode)
				if err != nil {
					return err
				}
				graphRes = res
				return nil
			})
			if err := g.Wait(); err != nil {
				return nil, err
			}
			sess.AddMentions(extractionRes.Mentions)
			o.mergeGraphResult(sess, graphRes)
			pendingAmbiguous = graphRes.AmbiguousMentions
			continue
		}

		if err := o.transition(ctx, sess, "coverage_gap", types.StateQueryingGraph); err != nil {
			return nil, err
		}
		result, err := o.callGraph(ctx, sess, mode)
		if err != nil {
			return nil, err
		}
		o.mergeGraphResult(sess, result)
		pendingAmbiguous = result.AmbiguousMentions
	}

	answer := o.synthesize(ctx, sess, lowConfidence)
	if err := o.transition(ctx, sess, "answer_composed", types.StateAnswered); err != nil {
		return nil, err
	}
	return answer, nil
}

// callExtractor invokes the entity extractor with retry, per-call timeout,
// and boundary validation of the message envelope.
func (o *Orchestrator) callExtractor(ctx context.Context, sess *types.Session, hint string) (*types.ExtractionResult, error) {
	req := types.ExtractionRequest{
		QueryText:          sess.Query,
		DisambiguationHint: hint,
	}
	if err := types.NewExtractionRequest(&req).Validate(); err != nil {
		return nil, err
	}

	var result *types.ExtractionResult
	err := o.withRetry(ctx, sess, func(callCtx context.Context) error {
		res, err := o.extractor.Extract(callCtx, req)
		if err != nil {
			return err
		}
		if err := types.NewExtractionResult(res).Validate(); err != nil {
			return fmt.Errorf("%w: %w", extractor.ErrExtractionMalformed, err)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// callGraph invokes the graph query agent with retry and per-call timeout.
func (o *Orchestrator) callGraph(ctx context.Context, sess *types.Session, mode types.QueryMode) (*types.GraphQueryResult, error) {
	req := types.GraphQueryRequest{
		Mentions: sess.Mentions,
		RawQuery: sess.Query,
		Mode:     mode,
		Limit:    sess.Config.EvidenceLimit,
	}
	if err := types.NewGraphQueryRequest(&req).Validate(); err != nil {
		return nil, err
	}

	var result *types.GraphQueryResult
	err := o.withRetry(ctx, sess, func(callCtx context.Context) error {
		res, err := o.graph.Query(callCtx, req)
		if err != nil {
			return err
		}
		if err := types.NewGraphQueryResult(res).Validate(); err != nil {
			return fmt.Errorf("%w: %w", graphquery.ErrGraphQueryInvalid, err)
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) mergeGraphResult(sess *types.Session, result *types.GraphQueryResult) {
	sess.AddEvidence(result.Items)
	sess.MarkCovered(result.ResolvedMentions)
}

// withRetry runs op with the session's per-call timeout, retrying transient
// failures with exponential backoff up to the retry budget. Malformed and
// invalid results escalate immediately: retrying a malformed request only
// wastes budget.
func (o *Orchestrator) withRetry(ctx context.Context, sess *types.Session, op func(context.Context) error) error {
	cfg := sess.Config
	backoff := cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			o.logger.Debug("retrying agent call",
				"session_id", sess.ID,
				"attempt", attempt,
				"backoff", backoff,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.PerCallTimeout)
		err := op(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			// Session-level cancellation aborts the in-flight call.
			return ctx.Err()
		}
		lastErr = err
		if !transient(err) {
			return err
		}
	}

	return lastErr
}

// sufficient applies the sufficiency check: at least one evidence item above
// the configured score threshold, and every high-confidence mention covered
// by accumulated evidence.
func (o *Orchestrator) sufficient(sess *types.Session) bool {
	cfg := sess.Config

	strongEvidence := false
	for _, item := range sess.Evidence {
		if item.RelevanceScore >= cfg.SufficiencyThreshold {
			strongEvidence = true
			break
		}
	}
	if !strongEvidence {
		return false
	}

	for _, mention := range sess.HighConfidenceMentions() {
		if !sess.Covered[mention.NormalizedName()] {
			return false
		}
	}
	return true
}

// synthesize composes the answer from accumulated evidence. It issues no
// further agent calls: citations are a pure merge over collected items in
// retrieval order, already deduplicated by identifier, never re-sorted by
// score. Wording goes through the completion provider when available, but a
// wording failure degrades to a deterministic rendering rather than failing
// the session.
func (o *Orchestrator) synthesize(ctx context.Context, sess *types.Session, lowConfidence bool) *types.Answer {
	cited := sess.EvidenceIDs()
	if len(cited) == 0 {
		lowConfidence = true
	}

	text := o.composeText(ctx, sess)
	return &types.Answer{
		Text:             text,
		CitedEvidenceIDs: cited,
		LowConfidence:    lowConfidence,
	}
}

func (o *Orchestrator) composeText(ctx context.Context, sess *types.Session) string {
	if o.nlp == nil || len(sess.Evidence) == 0 {
		return fallbackText(sess)
	}

	callCtx, cancel := context.WithTimeout(ctx, sess.Config.PerCallTimeout)
	defer cancel()

	prompt := synthesisPrompt(sess)
	text, err := nlp.Complete(callCtx, o.nlp, prompt)
	if err != nil || strings.TrimSpace(text) == "" {
		o.logger.Warn("answer wording failed, using evidence rendering",
			"session_id", sess.ID,
			"error", err,
		)
		return fallbackText(sess)
	}
	return strings.TrimSpace(text)
}

func synthesisPrompt(sess *types.Session) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the evidence below. Be concise and factual.\n\n")
	b.WriteString("Question: ")
	b.WriteString(sess.Query)
	b.WriteString("\n\nEvidence:\n")
	for i, item := range sess.Evidence {
		fmt.Fprintf(&b, "%d. [%s %s] %s\n", i+1, item.SourceType, item.Identifier, payloadDigest(item))
	}
	return b.String()
}

func fallbackText(sess *types.Session) string {
	if len(sess.Evidence) == 0 {
		return "No supporting evidence was found for this question."
	}
	var parts []string
	for _, item := range sess.Evidence {
		if digest := payloadDigest(item); digest != "" {
			parts = append(parts, digest)
		}
	}
	return strings.Join(parts, " ")
}

func payloadDigest(item types.EvidenceItem) string {
	for _, key := range []string{"summary", "description", "text", "title"} {
		if v, ok := item.Payload[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// transition advances the state machine, checking the cancellation signal at
// the boundary and recording the step in the audit trail.
func (o *Orchestrator) transition(ctx context.Context, sess *types.Session, trigger string, to types.SessionState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.record(sess, trigger, to)
	return nil
}

// finalize records a terminal transition. It runs even when the session
// context is already cancelled so the trail always ends in a terminal state.
func (o *Orchestrator) finalize(sess *types.Session, trigger string, to types.SessionState) {
	o.record(sess, trigger, to)
}

func (o *Orchestrator) record(sess *types.Session, trigger string, to types.SessionState) {
	from := sess.State
	sess.State = to
	o.logger.Info("session transition",
		"session_id", sess.ID,
		"from", from,
		"trigger", trigger,
		"to", to,
		"turn", sess.Turn,
	)
	o.trail.Record(types.Transition{
		SessionID: sess.ID,
		From:      from,
		Trigger:   trigger,
		To:        to,
		Turn:      sess.Turn,
		At:        time.Now().UTC(),
	})
}

// broaden escalates the retrieval mode for the next refinement turn.
func broaden(mode types.QueryMode) types.QueryMode {
	switch mode {
	case types.ModeEntityLookup:
		return types.ModeCommunitySummary
	case types.ModeCommunitySummary:
		return types.ModeVectorSimilarity
	default:
		return types.ModeVectorSimilarity
	}
}

func disambiguationHint(ambiguous []types.AmbiguousMention) string {
	var parts []string
	for _, a := range ambiguous {
		parts = append(parts, fmt.Sprintf("%s (candidates: %s)", a.Name, strings.Join(a.Candidates, ", ")))
	}
	return strings.Join(parts, "; ")
}

func transient(err error) bool {
	return errors.Is(err, extractor.ErrExtractionUnavailable) ||
		errors.Is(err, graphquery.ErrGraphUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// classifyFailure maps a run error to the failure kind reported to the
// caller. Timeouts are attributed to the collaborator active in the state
// where they expired.
func classifyFailure(err error, lastState types.SessionState) types.FailureKind {
	switch {
	case errors.Is(err, context.Canceled):
		return types.FailureSessionAborted
	case errors.Is(err, extractor.ErrExtractionMalformed):
		return types.FailureExtractionMalformed
	case errors.Is(err, extractor.ErrExtractionUnavailable):
		return types.FailureExtractionUnavailable
	case errors.Is(err, graphquery.ErrGraphQueryInvalid):
		return types.FailureGraphQueryInvalid
	case errors.Is(err, graphquery.ErrGraphUnavailable):
		return types.FailureGraphUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		if lastState == types.StateExtractingEntities {
			return types.FailureExtractionUnavailable
		}
		return types.FailureGraphUnavailable
	default:
		if lastState == types.StateExtractingEntities {
			return types.FailureExtractionUnavailable
		}
		return types.FailureGraphUnavailable
	}
}
