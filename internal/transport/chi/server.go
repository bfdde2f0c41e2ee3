package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
	"github.com/ZaineBoulbahaim/Streamevents/internal/logger"
	assistantuc "github.com/ZaineBoulbahaim/Streamevents/internal/usecase/assistant"
	healthuc "github.com/ZaineBoulbahaim/Streamevents/internal/usecase/health"
	retrievaluc "github.com/ZaineBoulbahaim/Streamevents/internal/usecase/retrieval"
	"github.com/ZaineBoulbahaim/Streamevents/internal/version"
)

const maxBodyBytes = 64 << 10

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Options holds request defaults applied by the handlers.
type Options struct {
	OnlyFutureDefault bool
	EventURLPattern   string
}

// Server serves the chat, search and health endpoints.
type Server struct {
	assistant     *assistantuc.Service
	retrieval     *retrievaluc.Service
	health        *healthuc.Service
	opts          Options
	validate      *validator.Validate
	logger        *zap.Logger
	errorHandlers []errorHandler
	now           func() time.Time
}

// NewServer creates an HTTP API server.
func NewServer(
	assistant *assistantuc.Service,
	retrieval *retrievaluc.Service,
	health *healthuc.Service,
	opts Options,
	logger *zap.Logger,
) *Server {
	s := &Server{
		assistant: assistant,
		retrieval: retrieval,
		health:    health,
		opts:      opts,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
		now:       time.Now,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidInput, http.StatusBadRequest, ErrorResponseCodeValidationFailed),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, ErrorResponseCodeNotFound),
		sentinelHandler(domain.ErrEmbeddingProviderError,
			http.StatusBadGateway, ErrorResponseCodeEmbeddingProviderError),
		sentinelHandler(domain.ErrEmbeddingUnavailable,
			http.StatusServiceUnavailable, ErrorResponseCodeEmbeddingUnavailable),
		sentinelHandler(domain.ErrGenerationFailed, http.StatusBadGateway, ErrorResponseCodeGenerationFailed),
	}
	return s
}

// Mount registers the API routes on r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.Chat)
		r.Post("/chat/stream", s.ChatStream)
		r.Get("/search", s.Search)
		r.Get("/events/{id}", s.GetEvent)
	})
}

// Chat handles POST /api/chat.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	reply, err := s.assistant.Recommend(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, replyToAPI(reply))
}

// ChatStream handles POST /api/chat/stream as server-sent events.
func (s *Server) ChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	reply, err := s.assistant.RecommendStream(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	defer func() { _ = reply.Close() }()

	sse := newSSEWriter(w)
	log := logger.FromContext(r.Context())

	if err := sse.Send(eventCandidates, eventsToAPI(reply.Candidates)); err != nil {
		log.Debug("Client gone before candidates", zap.Error(err))
		return
	}

	for fragment := range reply.Tokens() {
		if err := sse.Send(eventToken, tokenPayload{Text: fragment}); err != nil {
			log.Info("Client disconnected mid-stream", zap.Error(err))
			return
		}
	}

	final, err := reply.Finish()
	if err != nil {
		log.Warn("Generation stream failed", zap.Error(err))
		_ = sse.Send(eventError, ErrorResponse{
			Code:    errorCode(err),
			Message: safeDomainMessage(err),
		})
		return
	}

	if err := sse.Send(eventAnswer, replyToAPI(final)); err != nil {
		return
	}
	_ = sse.Send(eventDone, struct{}{})
}

// Search handles GET /api/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var params SearchParams
	if err := runtime.BindQueryParameter("form", true, false, "q", r.URL.Query(), &params.Q); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid format for parameter q")
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "future", r.URL.Query(), &params.Future); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid format for parameter future")
		return
	}

	onlyFuture := true
	if params.Future != nil && *params.Future != "" {
		v, err := strconv.ParseBool(*params.Future)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "future must be 0 or 1")
			return
		}
		onlyFuture = v
	}

	query := ""
	if params.Q != nil {
		query = strings.TrimSpace(*params.Q)
	}

	resp := SearchResponse{Query: query, OnlyFuture: onlyFuture, Results: []Event{}}
	if query == "" {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	res, err := s.retrieval.Search(r.Context(), query, onlyFuture)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	for _, c := range res.Candidates {
		resp.Results = append(resp.Results, eventToAPI(assistantuc.NewCandidateView(c, s.opts.EventURLPattern)))
	}
	resp.Unembedded = res.Unembedded
	writeJSON(w, http.StatusOK, resp)
}

// GetEvent handles GET /api/events/{id}.
func (s *Server) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid format for parameter id")
		return
	}

	item, err := s.retrieval.Event(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	view := assistantuc.NewCandidateView(retrievaluc.Candidate{Item: item}, s.opts.EventURLPattern)
	writeJSON(w, http.StatusOK, EventDetail{
		ID:            view.ID,
		Title:         view.Title,
		Description:   item.Description(),
		ScheduledDate: view.ScheduledDate,
		Category:      view.Category,
		Tags:          view.Tags,
		URL:           view.URL,
		Embedded:      item.HasEmbedding(),
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]HealthResponseChecks)
	for k, v := range report.Checks {
		checks[k] = HealthResponseChecks(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:    HealthResponseStatus(report.Status),
		Checks:    checks,
		Version:   version.Version,
		CheckedAt: s.now().UTC(),
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (assistantuc.Request, bool) {
	var body ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid request body: "+err.Error())
		return assistantuc.Request{}, false
	}

	body.Message = strings.TrimSpace(body.Message)
	if err := s.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed, validationMessage(err))
		return assistantuc.Request{}, false
	}

	onlyFuture := s.opts.OnlyFutureDefault
	if body.OnlyFuture != nil {
		onlyFuture = *body.OnlyFuture
	}
	return assistantuc.Request{Message: body.Message, OnlyFuture: onlyFuture}, true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	switch fe := verrs[0]; fe.Tag() {
	case "required":
		return "message is required"
	case "max":
		return "message must be at most " + fe.Param() + " characters"
	default:
		return "message is invalid"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorResponseCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

var sentinels = []error{
	domain.ErrInvalidInput,
	domain.ErrNotFound,
	domain.ErrVectorDimMismatch,
	domain.ErrEmbeddingProviderError,
	domain.ErrEmbeddingUnavailable,
	domain.ErrGenerationFailed,
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// errorCode maps an error to its wire code for SSE error events, where no status can be sent.
func errorCode(err error) ErrorResponseCode {
	switch {
	case errors.Is(err, domain.ErrGenerationFailed):
		return ErrorResponseCodeGenerationFailed
	case errors.Is(err, domain.ErrEmbeddingProviderError):
		return ErrorResponseCodeEmbeddingProviderError
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return ErrorResponseCodeEmbeddingUnavailable
	default:
		return ErrorResponseCodeInternalError
	}
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorResponseCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorResponseCodeInternalError, "internal error")
}

func replyToAPI(r assistantuc.Reply) ChatResponse {
	ids := r.RecommendedIDs
	if ids == nil {
		ids = []int64{}
	}
	return ChatResponse{
		Answer:         r.Answer,
		FollowUp:       r.FollowUp,
		RecommendedIDs: ids,
		Events:         eventsToAPI(r.Events),
		NoCandidates:   r.NoCandidates,
		Fallback:       r.Fallback,
	}
}

func eventsToAPI(views []assistantuc.CandidateView) []Event {
	out := make([]Event, len(views))
	for i, v := range views {
		out[i] = eventToAPI(v)
	}
	return out
}

func eventToAPI(v assistantuc.CandidateView) Event {
	return Event{
		ID:            v.ID,
		Title:         v.Title,
		ScheduledDate: v.ScheduledDate,
		Category:      v.Category,
		Tags:          v.Tags,
		URL:           v.URL,
		Score:         v.Score,
	}
}
