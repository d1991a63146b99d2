package types

import "errors"

// The agents exchange a tagged-variant message protocol instead of
// free-form conversation turns. Every envelope carries exactly one payload
// matching its kind and is validated at the boundary before dispatch.

// MessageKind enumerates the agent message variants.
type MessageKind string

const (
	KindExtractionRequest MessageKind = "extraction_request"
	KindExtractionResult  MessageKind = "extraction_result"
	KindGraphQueryRequest MessageKind = "graph_query_request"
	KindGraphQueryResult  MessageKind = "graph_query_result"
)

// Envelope validation errors
var (
	ErrUnknownMessageKind = errors.New("unknown message kind")
	ErrPayloadMismatch    = errors.New("message payload does not match kind")
)

// ExtractionRequest asks the entity extractor for mentions in query text.
// DisambiguationHint is set on re-extraction after ambiguous graph results.
type ExtractionRequest struct {
	QueryText          string `json:"query_text"`
	DisambiguationHint string `json:"disambiguation_hint,omitempty"`
}

// ExtractionResult carries the extracted mentions. Mentions never contain
// duplicate normalized names.
type ExtractionResult struct {
	Mentions []EntityMention `json:"mentions"`
}

// QueryMode selects the retrieval strategy for a graph query.
type QueryMode string

const (
	ModeEntityLookup     QueryMode = "entity_lookup"
	ModeCommunitySummary QueryMode = "community_summary"
	ModeVectorSimilarity QueryMode = "vector_similarity"
)

// GraphQueryRequest asks the graph query agent for evidence.
type GraphQueryRequest struct {
	Mentions []EntityMention `json:"mentions,omitempty"`
	RawQuery string          `json:"raw_query,omitempty"`
	Mode     QueryMode       `json:"mode"`
	Limit    int             `json:"limit,omitempty"`
}

// GraphQueryResult carries retrieved evidence in retrieval order.
type GraphQueryResult struct {
	Items []EvidenceItem `json:"items"`
	// ResolvedMentions lists normalized mention names the evidence covers.
	ResolvedMentions []string `json:"resolved_mentions,omitempty"`
	// AmbiguousMentions lists mentions for which multiple candidate nodes
	// tied on score; they trigger a disambiguation re-extraction.
	AmbiguousMentions []AmbiguousMention `json:"ambiguous_mentions,omitempty"`
}

// AmbiguousMention names a mention with equally scored candidate nodes.
type AmbiguousMention struct {
	Name       string   `json:"name"`
	Candidates []string `json:"candidates"`
}

// Envelope is the tagged union wrapping one agent message.
type Envelope struct {
	Kind MessageKind `json:"kind"`

	ExtractionRequest *ExtractionRequest `json:"extraction_request,omitempty"`
	ExtractionResult  *ExtractionResult  `json:"extraction_result,omitempty"`
	GraphQueryRequest *GraphQueryRequest `json:"graph_query_request,omitempty"`
	GraphQueryResult  *GraphQueryResult  `json:"graph_query_result,omitempty"`
}

// Validate checks that exactly the payload named by Kind is present.
func (e *Envelope) Validate() error {
	set := 0
	if e.ExtractionRequest != nil {
		set++
	}
	if e.ExtractionResult != nil {
		set++
	}
	if e.GraphQueryRequest != nil {
		set++
	}
	if e.GraphQueryResult != nil {
		set++
	}
	if set != 1 {
		return ErrPayloadMismatch
	}
	switch e.Kind {
	case KindExtractionRequest:
		if e.ExtractionRequest == nil {
			return ErrPayloadMismatch
		}
	case KindExtractionResult:
		if e.ExtractionResult == nil {
			return ErrPayloadMismatch
		}
	case KindGraphQueryRequest:
		if e.GraphQueryRequest == nil {
			return ErrPayloadMismatch
		}
	case KindGraphQueryResult:
		if e.GraphQueryResult == nil {
			return ErrPayloadMismatch
		}
	default:
		return ErrUnknownMessageKind
	}
	return nil
}

// NewExtractionRequest wraps an extraction request in a validated envelope.
func NewExtractionRequest(req *ExtractionRequest) *Envelope {
	return &Envelope{Kind: KindExtractionRequest, ExtractionRequest: req}
}

// NewExtractionResult wraps an extraction result in a validated envelope.
func NewExtractionResult(res *ExtractionResult) *Envelope {
	return &Envelope{Kind: KindExtractionResult, ExtractionResult: res}
}

// NewGraphQueryRequest wraps a graph query request in a validated envelope.
func NewGraphQueryRequest(req *GraphQueryRequest) *Envelope {
	return &Envelope{Kind: KindGraphQueryRequest, GraphQueryRequest: req}
}

// NewGraphQueryResult wraps a graph query result in a validated envelope.
func NewGraphQueryResult(res *GraphQueryResult) *Envelope {
	return &Envelope{Kind: KindGraphQueryResult, GraphQueryResult: res}
}
