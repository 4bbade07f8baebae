package notify

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lei/streams-build/internal/action"
	"github.com/lei/streams-build/internal/models"
)

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event published")
		return Event{}
	}
}

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe()

	hub.Publish(Event{Title: "first"})
	hub.Publish(Event{Title: "dropped"})

	if got := next(t, ch); got.Title != "first" {
		t.Errorf("event title = %q, want %q", got.Title, "first")
	}

	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}
	hub.Publish(Event{Title: "after cancel"})
}

func TestService_PresentError(t *testing.T) {
	hub := NewHub(4)
	ch, cancel := hub.Subscribe()
	defer cancel()

	New(hub, nil).PresentError(action.KindNewBuild, errors.New("unable to retrieve build id"))

	ev := next(t, ch)
	if ev.Level != LevelError {
		t.Errorf("Level = %s, want %s", ev.Level, LevelError)
	}
	if ev.Title != "Error in NEW_BUILD" || ev.Detail != "unable to retrieve build id" {
		t.Errorf("event = %+v", ev)
	}
	if ev.ID == "" {
		t.Error("event has no id")
	}
}

func TestService_PromptSubmissionParams(t *testing.T) {
	hub := NewHub(4)
	ch, cancel := hub.Subscribe()
	defer cancel()

	New(hub, nil).PromptSubmissionParams(action.AwaitSubmissionParams{
		WorkflowID: "wf-1",
		BuildID:    "7",
		Params:     []models.SubmissionTimeParam{{Name: "rate"}, {Name: "topic"}},
	})

	ev := next(t, ch)
	if ev.Level != LevelPrompt {
		t.Errorf("Level = %s, want %s", ev.Level, LevelPrompt)
	}
	if ev.Data["workflow_id"] != "wf-1" {
		t.Errorf("Data[workflow_id] = %v, want wf-1", ev.Data["workflow_id"])
	}
	if ev.Detail != "2 parameter(s) for build 7" {
		t.Errorf("Detail = %q", ev.Detail)
	}
}

func TestService_BundleDownloaded(t *testing.T) {
	hub := NewHub(4)
	ch, cancel := hub.Subscribe()
	defer cancel()

	New(hub, nil).BundleDownloaded("7", models.Artifact{Name: "ns.Main.sab"}, "/app/output/ns.Main.sab", 2_500_000)

	ev := next(t, ch)
	if !strings.Contains(ev.Detail, "2.5 MB") {
		t.Errorf("Detail = %q, want humanized size", ev.Detail)
	}
}

func TestService_OpenURL(t *testing.T) {
	s := New(NewHub(1), nil)
	if err := s.OpenURL(""); err == nil {
		t.Error("OpenURL(\"\") error = nil")
	}
	if err := s.OpenURL("https://console"); err != nil {
		t.Errorf("OpenURL() error = %v", err)
	}
}
