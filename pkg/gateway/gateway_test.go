package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/lei/streams-build/internal/state"
)

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"unknown instance type", &Config{Platform: PlatformConfig{InstanceType: "cloud"}}},
		{"empty api key", &Config{Auth: AuthConfig{APIKeys: []APIKey{{Name: "a"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Errorf("New() error = nil, want error")
			}
		})
	}
}

func TestActivate(t *testing.T) {
	gw, err := New(&Config{
		Auth: AuthConfig{APIKeys: []APIKey{{Name: "test", Key: "k"}}},
		Platform: PlatformConfig{
			InstanceType:     "standalone",
			InstancesRootURL: "https://streams.example.com/streams/rest/instances/sample",
		},
		Build:   BuildConfig{Originator: "gateway-test", ToolkitsPath: "/opt/toolkits"},
		Journal: JournalConfig{Path: filepath.Join(t.TempDir(), "journal.db")},
		Logging: LoggingConfig{Level: "error"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	stop := gw.Activate(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for !gw.Service().State(context.Background()).Session.PackageActivated {
		if time.Now().After(deadline) {
			t.Fatal("session was not activated")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s := gw.Service().State(context.Background())
	if got := state.InstanceType(s); got != "standalone" {
		t.Errorf("InstanceType() = %q, want standalone", got)
	}
	if want := "gateway-test::" + Version; s.Session.BuildOriginator != want {
		t.Errorf("BuildOriginator = %q, want %q", s.Session.BuildOriginator, want)
	}
	if s.Session.ToolkitsPathSetting != "/opt/toolkits" {
		t.Errorf("ToolkitsPathSetting = %q, want /opt/toolkits", s.Session.ToolkitsPathSetting)
	}

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	gw.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}

	if err := stop(); err != nil {
		t.Errorf("stop() error = %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Errorf("Close() after stop error = %v", err)
	}
}
