// ABOUTME: Fire-and-forget telemetry sink for request outcome events.
// ABOUTME: Never on the critical path - events are dropped rather than block.

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Event is one request outcome record.
type Event struct {
	RequestID         string `json:"request_id"`
	LatencyMS         int64  `json:"latency_ms"`
	Outcome           string `json:"outcome"`
	NegotiationRounds int    `json:"negotiation_rounds"`
}

// Sink accepts telemetry events. Implementations must not block the caller.
type Sink interface {
	Emit(event Event)
	Close()
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}
func (NopSink) Close()     {}

// LogSink writes events to the structured log. Useful when no external
// collector is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs events at debug level.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "telemetry")}
}

func (s *LogSink) Emit(event Event) {
	s.logger.Debug("request outcome",
		"request_id", event.RequestID,
		"latency_ms", event.LatencyMS,
		"outcome", event.Outcome,
		"rounds", event.NegotiationRounds,
	)
}

func (s *LogSink) Close() {}

// HTTPSink POSTs events to an external collector from a single background
// worker. The buffer is bounded; when full, events are dropped and counted.
type HTTPSink struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger

	events  chan Event
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	dropped int
	closed  bool
}

// NewHTTPSink creates a sink posting to url. Buffer defaults to 256.
func NewHTTPSink(url string, buffer int, logger *slog.Logger) *HTTPSink {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &HTTPSink{
		url:        url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger.With("component", "telemetry"),
		events:     make(chan Event, buffer),
		done:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Emit enqueues an event, dropping it if the buffer is full or the sink is
// closed. Telemetry must never slow a response down.
func (s *HTTPSink) Emit(event Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.events <- event:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}
}

// Dropped returns how many events were discarded due to backpressure.
func (s *HTTPSink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops the worker after draining buffered events.
func (s *HTTPSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
}

func (s *HTTPSink) run() {
	defer s.wg.Done()
	for {
		select {
		case event := <-s.events:
			s.post(event)
		case <-s.done:
			// Drain what is buffered, then stop.
			for {
				select {
				case event := <-s.events:
					s.post(event)
				default:
					return
				}
			}
		}
	}
}

func (s *HTTPSink) post(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("encoding telemetry event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("building telemetry request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("posting telemetry event", "error", err)
		return
	}
	_ = resp.Body.Close()
}
