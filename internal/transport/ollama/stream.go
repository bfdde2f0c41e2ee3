package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ZaineBoulbahaim/Streamevents/internal/domain"
	"github.com/ZaineBoulbahaim/Streamevents/internal/metrics"
)

const (
	streamBuffer = 16
	maxLineBytes = 1 << 20
)

// Stream is a finite, non-restartable sequence of generated fragments.
// A producer goroutine reads NDJSON lines and pushes non-empty fragments
// into a bounded channel. Close cancels the upstream request.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	model  string
	logger *zap.Logger

	ch        chan string
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

func newStream(ctx context.Context, cancel context.CancelFunc, body io.ReadCloser, model string, l *zap.Logger) *Stream {
	return &Stream{
		ctx:    ctx,
		cancel: cancel,
		body:   body,
		model:  model,
		logger: l,
		ch:     make(chan string, streamBuffer),
		done:   make(chan struct{}),
	}
}

// Fragments iterates over the stream. Breaking out of the loop closes the stream.
func (s *Stream) Fragments() iter.Seq[string] {
	return func(yield func(string) bool) {
		for f := range s.ch {
			if !yield(f) {
				_ = s.Close()
				return
			}
		}
	}
}

// Err returns the error that ended the stream, if any.
// It blocks until the producer has finished, so call it after draining the stream.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Close abandons the stream and releases the connection. Safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.body.Close()
	})
	<-s.done
	return nil
}

func (s *Stream) run() {
	start := time.Now()
	defer func() {
		_ = s.body.Close()
		s.cancel()
		close(s.ch)
		close(s.done)

		status := "ok"
		if s.err != nil {
			status = "error"
		}
		metrics.GenerationRequestsTotal.WithLabelValues(s.model, "stream", status).Inc()
		metrics.GenerationDuration.WithLabelValues(s.model, "stream").Observe(time.Since(start).Seconds())
	}()

	sc := bufio.NewScanner(s.body)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk generateResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			metrics.GenerationMalformedLinesTotal.WithLabelValues(s.model).Inc()
			s.logger.Debug("Skipping malformed stream line", zap.Error(err))
			continue
		}
		if chunk.Error != "" {
			s.err = fmt.Errorf("%w: %s", domain.ErrGenerationFailed, chunk.Error)
			return
		}
		if chunk.Response != "" {
			select {
			case s.ch <- chunk.Response:
			case <-s.ctx.Done():
				return
			}
		}
		if chunk.Done {
			return
		}
	}

	// Errors after the caller abandoned the stream are expected.
	if err := sc.Err(); err != nil && s.ctx.Err() == nil {
		if errors.Is(err, bufio.ErrTooLong) {
			metrics.GenerationMalformedLinesTotal.WithLabelValues(s.model).Inc()
		}
		s.err = fmt.Errorf("%w: read stream: %w", domain.ErrGenerationFailed, err)
	}
}
