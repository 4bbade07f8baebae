package api

import (
	"strings"

	"github.com/lei/streams-build/internal/state"
)

// FilterBuilds filters builds based on query parameters
func FilterBuilds(builds []state.Build, search, status string, inProgress *bool) []state.Build {
	if search == "" && status == "" && inProgress == nil {
		return builds
	}

	filtered := make([]state.Build, 0, len(builds))
	searchLower := strings.ToLower(search)

	for _, b := range builds {
		// Search filter
		if search != "" && !matchesAny(searchLower, b.ID, b.Name, b.FQN, b.MakefilePath) {
			continue
		}

		// Status filter
		if status != "" && string(b.Status) != status {
			continue
		}

		// In-progress filter
		if inProgress != nil && b.Status.InProgress() != *inProgress {
			continue
		}

		filtered = append(filtered, b)
	}

	return filtered
}

// FilterSubmissions filters submissions based on query parameters
func FilterSubmissions(subs []state.Submission, buildID, status string, incomplete *bool) []state.Submission {
	if buildID == "" && status == "" && incomplete == nil {
		return subs
	}

	filtered := make([]state.Submission, 0, len(subs))

	for _, s := range subs {
		// Build filter
		if buildID != "" && s.BuildID != buildID {
			continue
		}

		// Status filter
		if status != "" && string(s.Status) != status {
			continue
		}

		// Incomplete filter
		if incomplete != nil && s.Status.Incomplete() != *incomplete {
			continue
		}

		filtered = append(filtered, s)
	}

	return filtered
}

func matchesAny(needle string, fields ...string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}

// parseBoolParam parses boolean query parameters
func parseBoolParam(value string) *bool {
	if value == "" {
		return nil
	}

	if value == "true" || value == "1" {
		result := true
		return &result
	}

	if value == "false" || value == "0" {
		result := false
		return &result
	}

	return nil
}
