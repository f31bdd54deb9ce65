package inference

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/inferpay/inferpay/internal/errs"
	"github.com/inferpay/inferpay/internal/metrics"
)

// Chunk is one text delta. ID is the correlation token fixed so far.
type Chunk struct {
	Delta string
	ID    string
}

type streamRecord struct {
	ID      string `json:"id"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Stream is an open provider response. It is not safe for concurrent Next calls.
type Stream struct {
	body    io.ReadCloser
	dec     *sseDecoder
	metrics *metrics.Metrics
	logger  *slog.Logger

	id      string
	text    strings.Builder
	skipped int
	done    bool
	started time.Time

	closeOnce sync.Once
	closeErr  error
}

func newStream(body io.ReadCloser, m *metrics.Metrics, logger *slog.Logger) *Stream {
	return &Stream{
		body:    body,
		dec:     newSSEDecoder(body),
		metrics: m,
		logger:  logger,
		started: time.Now(),
	}
}

// Next returns the next non-empty text delta. It returns io.EOF once the
// provider sends the done sentinel or the body ends. Records that are not
// valid JSON are skipped.
func (s *Stream) Next() (Chunk, error) {
	for {
		if s.done {
			return Chunk{}, io.EOF
		}

		data, err := s.dec.next()
		if errors.Is(err, io.EOF) {
			s.finish()
			return Chunk{}, io.EOF
		}
		if err != nil {
			s.finish()
			return Chunk{}, &errs.Error{Kind: errs.KindTransportFailure, Op: "inference.stream", Err: err}
		}

		if data == sseDoneToken {
			s.finish()
			return Chunk{}, io.EOF
		}

		var rec streamRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.skipped++
			s.logger.Debug("skipping malformed stream record", slog.Any("error", err))
			continue
		}

		if s.id == "" && rec.ID != "" {
			s.id = rec.ID
		}
		if len(rec.Choices) == 0 || rec.Choices[0].Delta.Content == "" {
			continue
		}

		delta := rec.Choices[0].Delta.Content
		s.text.WriteString(delta)
		s.metrics.StreamChunk()
		return Chunk{Delta: delta, ID: s.id}, nil
	}
}

// ID returns the correlation token, or "" if no record carried one yet.
func (s *Stream) ID() string { return s.id }

// Text returns everything delivered so far.
func (s *Stream) Text() string { return s.text.String() }

// Skipped returns how many malformed records were dropped.
func (s *Stream) Skipped() int { return s.skipped }

// Close releases the underlying transport. It is safe to call more than once.
func (s *Stream) Close() error {
	s.finish()
	return s.closeErr
}

func (s *Stream) finish() {
	s.done = true
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
		s.metrics.MalformedRecords(s.skipped)
		s.metrics.StreamDuration(time.Since(s.started))
	})
}
