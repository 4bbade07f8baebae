// Package notify delivers user-facing notifications. Every notification is
// logged and published on a Hub that the HTTP event stream subscribes to.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/pkg/logger"
)

// Level classifies a notification
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelPrompt  Level = "prompt"
	LevelOpen    Level = "open"
)

// Event is one published notification
type Event struct {
	ID     string         `json:"id"`
	Level  Level          `json:"level"`
	Title  string         `json:"title"`
	Detail string         `json:"detail,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
	Time   time.Time      `json:"time"`
}

// Hub fans events out to subscribers. Slow subscribers lose events rather
// than block the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	buffer int
}

// NewHub creates a hub whose subscriber channels hold buffer events
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{subs: make(map[chan Event]struct{}), buffer: buffer}
}

// Subscribe returns a channel of future events and a function that ends
// the subscription
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber with room for it
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Service implements the notifier, error presenter, parameter prompter and
// URL opener collaborators
type Service struct {
	hub    *Hub
	logger *logger.Logger
	now    func() time.Time
}

// New creates a notification service publishing on hub
func New(hub *Hub, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{hub: hub, logger: log, now: time.Now}
}

func (s *Service) publish(level Level, title, detail string, data map[string]any) {
	ev := Event{
		ID:     uuid.NewString(),
		Level:  level,
		Title:  title,
		Detail: detail,
		Data:   data,
		Time:   s.now(),
	}
	if s.hub != nil {
		s.hub.Publish(ev)
	}
}

func (s *Service) Info(title, detail string) {
	s.logger.Info("notify: "+title, "detail", detail)
	s.publish(LevelInfo, title, detail, nil)
}

func (s *Service) Success(title, detail string) {
	s.logger.Info("notify: "+title, "detail", detail)
	s.publish(LevelSuccess, title, detail, nil)
}

func (s *Service) Warning(title, detail string) {
	s.logger.Warn("notify: "+title, "detail", detail)
	s.publish(LevelWarning, title, detail, nil)
}

// PresentError shows a failed workflow to the user
func (s *Service) PresentError(source action.Kind, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.logger.Error("notify: workflow error",
		"source", source,
		"error", msg)
	s.publish(LevelError, "Error in "+string(source), msg, map[string]any{"source": source})
}

// PromptSubmissionParams asks for values of the parameters a suspended
// submission waits on
func (s *Service) PromptSubmissionParams(req action.AwaitSubmissionParams) {
	names := make([]string, len(req.Params))
	for i, p := range req.Params {
		names[i] = p.Name
	}
	s.logger.Info("notify: submission parameters requested",
		"workflow_id", req.WorkflowID,
		"params", names)
	s.publish(LevelPrompt, "Submission-time parameters required",
		fmt.Sprintf("%d parameter(s) for %s", len(req.Params), describeTarget(req)),
		map[string]any{"workflow_id": req.WorkflowID, "params": req.Params})
}

// OpenURL publishes url for a client to open
func (s *Service) OpenURL(url string) error {
	if url == "" {
		return fmt.Errorf("open url: no url")
	}
	s.logger.Info("notify: open url", "url", url)
	s.publish(LevelOpen, "Open", url, map[string]any{"url": url})
	return nil
}

// BundleDownloaded reports a written application bundle
func (s *Service) BundleDownloaded(buildID string, artifact models.Artifact, path string, size int64) {
	detail := fmt.Sprintf("%s saved to %s (%s)", artifact.Name, path, humanize.Bytes(uint64(size)))
	s.logger.Info("notify: application bundle downloaded",
		"build_id", buildID,
		"path", path,
		"size", size)
	s.publish(LevelSuccess, "Application bundle downloaded", detail,
		map[string]any{"build_id": buildID, "path": path})
}

// BuildStatus reports a polled build status
func (s *Service) BuildStatus(identifier string, status models.BuildStatus, lastActivity time.Time) {
	detail := string(status)
	if !lastActivity.IsZero() {
		detail = fmt.Sprintf("%s (last activity %s)", status, humanize.RelTime(lastActivity, s.now(), "ago", "from now"))
	}
	level := LevelInfo
	switch status {
	case models.BuildBuilt:
		level = LevelSuccess
	case models.BuildFailed:
		level = LevelError
	}
	s.logger.Info("notify: build status", "build", identifier, "status", status)
	s.publish(level, "Build "+identifier, detail, map[string]any{"status": status})
}

// SubmissionStatus reports a polled job submission status
func (s *Service) SubmissionStatus(submissionID string, status models.SubmissionStatus) {
	level := LevelInfo
	switch {
	case status == models.SubmissionJobSubmitted:
		level = LevelSuccess
	case !status.Incomplete():
		level = LevelError
	}
	s.logger.Info("notify: submission status", "submission_id", submissionID, "status", status)
	s.publish(level, "Job submission "+submissionID, string(status), map[string]any{"status": status})
}

func describeTarget(req action.AwaitSubmissionParams) string {
	switch {
	case req.BuildID != "":
		return "build " + req.BuildID
	case req.JobName != "":
		return "job " + req.JobName
	default:
		return "bundle " + req.BundleID
	}
}
