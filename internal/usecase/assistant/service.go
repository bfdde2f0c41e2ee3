// Package assistant answers event questions: it retrieves candidates, prompts the
// language model with them and reconciles the reply against what was retrieved.
package assistant

import (
	"context"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
	"github.com/ZaineBoulbahaim/Streamevents/internal/logger"
	"github.com/ZaineBoulbahaim/Streamevents/internal/metrics"
	"github.com/ZaineBoulbahaim/Streamevents/internal/tracing"
	"github.com/ZaineBoulbahaim/Streamevents/internal/usecase/retrieval"
)

// Replies used when retrieval finds nothing, even after widening the scope.
const (
	NoCandidatesAnswer   = "No he trobat cap esdeveniment que encaixi amb la teva consulta."
	NoCandidatesFollowUp = "Pots concretar la categoria o la data que t'interessa?"
)

// CandidateView is a retrieved event as shown to the model and to the client.
type CandidateView struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	ScheduledDate *string `json:"scheduled_date"`
	Category      string  `json:"category"`
	Tags          string  `json:"tags"`
	URL           string  `json:"url"`
	Score         float64 `json:"score"`
}

// Request is a chat message.
type Request struct {
	Message    string
	OnlyFuture bool
}

// Reply is the answer returned to the client.
type Reply struct {
	Answer         string
	FollowUp       string
	RecommendedIDs []int64
	Events         []CandidateView
	NoCandidates   bool
	Fallback       bool
}

// Config holds assistant settings.
type Config struct {
	EventURLPattern string // fmt pattern with one %d
	RequestK        int
}

// Service runs the retrieve, prompt, generate, reconcile pipeline.
type Service struct {
	retriever Retriever
	gen       domain.Generator
	cfg       Config
	logger    *zap.Logger
}

// New creates an assistant service.
func New(r Retriever, gen domain.Generator, cfg Config, l *zap.Logger) *Service {
	return &Service{retriever: r, gen: gen, cfg: cfg, logger: l}
}

// Recommend answers a message with a single blocking generation.
func (s *Service) Recommend(ctx context.Context, req Request) (Reply, error) {
	ctx, span := tracing.Start(ctx, "assistant.Recommend")
	defer span.End()

	msg, views, err := s.prepare(ctx, req)
	if err != nil {
		return Reply{}, err
	}
	if len(views) == 0 {
		return noCandidates(), nil
	}

	raw, err := s.gen.Generate(ctx, BuildPrompt(msg, views))
	if err != nil {
		span.RecordError(err)
		return Reply{}, fmt.Errorf("generate answer: %w", err)
	}
	return s.finish(ctx, raw, views), nil
}

// StreamReply is an in-flight streamed answer. Candidates are known up front;
// Tokens yields the model's fragments and Finish reconciles them.
type StreamReply struct {
	Candidates   []CandidateView
	NoCandidates bool

	svc    *Service
	ctx    context.Context
	stream domain.FragmentStream
	text   strings.Builder
}

// RecommendStream retrieves candidates and opens a generation stream over them.
// With no candidates the model is not called and the reply carries NoCandidates.
func (s *Service) RecommendStream(ctx context.Context, req Request) (*StreamReply, error) {
	msg, views, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	reply := &StreamReply{Candidates: views, svc: s, ctx: ctx}
	if len(views) == 0 {
		reply.NoCandidates = true
		return reply, nil
	}

	stream, err := s.gen.GenerateStream(ctx, BuildPrompt(msg, views))
	if err != nil {
		return nil, fmt.Errorf("open generation stream: %w", err)
	}
	reply.stream = stream
	return reply, nil
}

// Tokens yields generated fragments as they arrive. Breaking out of the loop
// abandons the generation.
func (r *StreamReply) Tokens() iter.Seq[string] {
	return func(yield func(string) bool) {
		if r.stream == nil {
			return
		}
		for f := range r.stream.Fragments() {
			r.text.WriteString(f)
			if !yield(f) {
				return
			}
		}
	}
}

// Finish reconciles the accumulated text. Call it after Tokens is exhausted.
func (r *StreamReply) Finish() (Reply, error) {
	if r.NoCandidates {
		return noCandidates(), nil
	}
	if err := r.stream.Err(); err != nil {
		return Reply{}, fmt.Errorf("generation stream: %w", err)
	}
	return r.svc.finish(r.ctx, r.text.String(), r.Candidates), nil
}

// Close releases the generation stream. Safe to call at any point.
func (r *StreamReply) Close() error {
	if r.stream == nil {
		return nil
	}
	return r.stream.Close()
}

// prepare validates the message and resolves candidate views.
func (s *Service) prepare(ctx context.Context, req Request) (string, []CandidateView, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return "", nil, fmt.Errorf("%w: message is empty", domain.ErrInvalidInput)
	}

	cands, err := s.retriever.Retrieve(ctx, retrieval.Request{
		Query:      msg,
		OnlyFuture: req.OnlyFuture,
		K:          s.cfg.RequestK,
	})
	if err != nil {
		return "", nil, fmt.Errorf("retrieve candidates: %w", err)
	}
	if len(cands) == 0 {
		logger.FromContext(ctx).Info("No candidates for message", zap.Bool("only_future", req.OnlyFuture))
	}
	return msg, s.views(cands), nil
}

func (s *Service) finish(ctx context.Context, raw string, views []CandidateView) Reply {
	rec := Reconcile(raw, views)
	if rec.Fallback() {
		metrics.ReconcileFallbackTotal.WithLabelValues(rec.FallbackReason).Inc()
		logger.FromContext(ctx).Warn("Model reply needed a fallback",
			zap.String("reason", rec.FallbackReason),
			zap.Int("raw_len", len(raw)),
		)
	}
	return Reply{
		Answer:         rec.Answer.Answer,
		FollowUp:       rec.FollowUp,
		RecommendedIDs: rec.RecommendedIDs,
		Events:         rec.Events,
		Fallback:       rec.Fallback(),
	}
}

func (s *Service) views(cands []retrieval.Candidate) []CandidateView {
	out := make([]CandidateView, len(cands))
	for i, c := range cands {
		out[i] = NewCandidateView(c, s.cfg.EventURLPattern)
	}
	return out
}

// NewCandidateView resolves a ranked item for the prompt and the client.
// Scores keep three decimals; urlPattern takes the item id. Tags are normalized
// to a comma list without blanks.
func NewCandidateView(c retrieval.Candidate, urlPattern string) CandidateView {
	var date *string
	if at := c.Item.ScheduledAt(); at != nil {
		v := at.Format(time.RFC3339)
		date = &v
	}
	return CandidateView{
		ID:            c.Item.ID(),
		Title:         c.Item.Title(),
		ScheduledDate: date,
		Category:      c.Item.Category(),
		Tags:          strings.Join(c.Item.TagList(), ","),
		URL:           fmt.Sprintf(urlPattern, c.Item.ID()),
		Score:         math.Round(c.Score*1000) / 1000,
	}
}

func noCandidates() Reply {
	return Reply{
		Answer:         NoCandidatesAnswer,
		FollowUp:       NoCandidatesFollowUp,
		RecommendedIDs: []int64{},
		Events:         []CandidateView{},
		NoCandidates:   true,
	}
}
