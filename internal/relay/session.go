package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

var (
	ErrClosed             = errors.New("stream session is closed")
	ErrStreamingForbidden = errors.New("response writer does not support streaming")
)

type State int

const (
	StateIdle State = iota
	StateOpen
	StateEmitting
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateEmitting:
		return "emitting"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

const doneFrame = "data: [DONE]\n\n"

type contentEvent struct {
	Content string `json:"content"`
}

// Session is one caller-facing SSE stream. It moves
// Idle -> Open -> Emitting -> Completed|Aborted and writes nothing once
// closed.
type Session struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	state   State
	text    strings.Builder
	events  int
}

func NewSession(w http.ResponseWriter) (*Session, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingForbidden
	}
	return &Session{w: w, flusher: flusher}, nil
}

// Open sends the SSE response headers. Calling it twice is a no-op.
func (s *Session) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle:
	case StateOpen, StateEmitting:
		return nil
	default:
		return ErrClosed
	}

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
	s.state = StateOpen
	return nil
}

// Emit forwards one content fragment. Empty fragments are skipped.
func (s *Session) Emit(fragment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed() {
		return ErrClosed
	}
	if s.state == StateIdle {
		return errors.New("stream session is not open")
	}
	if fragment == "" {
		return nil
	}
	if err := s.writeContent(fragment); err != nil {
		return err
	}
	s.text.WriteString(fragment)
	s.state = StateEmitting
	return nil
}

// Complete writes the terminal marker exactly once.
func (s *Session) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed() {
		return ErrClosed
	}
	if s.state == StateIdle {
		return errors.New("stream session is not open")
	}
	s.state = StateCompleted
	return s.writeRaw(doneFrame)
}

// Abort writes a single error content event followed by the terminal marker.
// message must already be safe to show to the caller.
func (s *Session) Abort(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed() {
		return ErrClosed
	}
	if s.state == StateIdle {
		s.state = StateAborted
		return errors.New("stream session is not open")
	}
	s.state = StateAborted
	if err := s.writeContent(message); err != nil {
		return err
	}
	return s.writeRaw(doneFrame)
}

// Disconnect closes the session without writing; the caller is gone.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed() {
		s.state = StateAborted
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Text is the concatenation of every emitted fragment.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text.String()
}

// Events counts content events written, including an abort message.
func (s *Session) Events() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events
}

func (s *Session) closed() bool {
	return s.state == StateCompleted || s.state == StateAborted
}

func (s *Session) writeContent(content string) error {
	payload, err := json.Marshal(contentEvent{Content: content})
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	s.events++
	return s.writeRaw("data: " + string(payload) + "\n\n")
}

func (s *Session) writeRaw(frame string) error {
	if _, err := s.w.Write([]byte(frame)); err != nil {
		return fmt.Errorf("write stream frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}
