package api

import (
	"testing"

	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/state"
)

func TestFilterBuilds(t *testing.T) {
	builds := []state.Build{
		{ID: "1", FQN: "sample::Main", Status: models.BuildBuilt},
		{ID: "2", FQN: "sample::Other", Status: models.BuildBuilding},
		{ID: "3", MakefilePath: "/apps/etl/Makefile", Status: models.BuildFailed},
	}

	tests := []struct {
		name       string
		search     string
		status     string
		inProgress *bool
		want       int
	}{
		{"no filters", "", "", nil, 3},
		{"search sample", "sample", "", nil, 2},
		{"search makefile", "ETL", "", nil, 1},
		{"status built", "", "built", nil, 1},
		{"in progress", "", "", boolPtr(true), 1},
		{"finished", "", "", boolPtr(false), 2},
		{"search + status", "sample", "building", nil, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterBuilds(builds, tt.search, tt.status, tt.inProgress)
			if len(got) != tt.want {
				t.Errorf("FilterBuilds() = %d builds, want %d", len(got), tt.want)
			}
		})
	}
}

func TestFilterSubmissions(t *testing.T) {
	subs := []state.Submission{
		{ID: "s1", BuildID: "1", Status: models.SubmissionJobSubmitted},
		{ID: "s2", BuildID: "1", Status: models.SubmissionJobSubmitting},
		{ID: "s3", Status: models.SubmissionJobSubmitFailed},
	}

	tests := []struct {
		name       string
		buildID    string
		status     string
		incomplete *bool
		want       int
	}{
		{"no filters", "", "", nil, 3},
		{"by build", "1", "", nil, 2},
		{"by status", "", "job.submitFailed", nil, 1},
		{"incomplete", "", "", boolPtr(true), 1},
		{"build + complete", "1", "", boolPtr(false), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterSubmissions(subs, tt.buildID, tt.status, tt.incomplete)
			if len(got) != tt.want {
				t.Errorf("FilterSubmissions() = %d submissions, want %d", len(got), tt.want)
			}
		})
	}
}

func TestParseBoolParam(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  *bool
	}{
		{"empty", "", nil},
		{"true", "true", boolPtr(true)},
		{"1", "1", boolPtr(true)},
		{"false", "false", boolPtr(false)},
		{"0", "0", boolPtr(false)},
		{"invalid", "invalid", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseBoolParam(tt.value)
			if (got == nil) != (tt.want == nil) {
				t.Errorf("parseBoolParam() = %v, want %v", got, tt.want)
				return
			}
			if got != nil && tt.want != nil && *got != *tt.want {
				t.Errorf("parseBoolParam() = %v, want %v", *got, *tt.want)
			}
		})
	}
}

func boolPtr(b bool) *bool {
	return &b
}
