package streams

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lei/streams-build/internal/provider"
)

type platformMessage struct {
	Message string `json:"message"`
}

type envelope struct {
	Messages []platformMessage `json:"messages"`
	Errors   []platformMessage `json:"errors"`
	Error    string            `json:"error"`
}

// platformMessages extracts the messages/errors list a body may carry
func platformMessages(data []byte) []string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var env envelope
	if json.Unmarshal(trimmed, &env) != nil {
		return nil
	}
	var out []string
	for _, m := range env.Messages {
		out = append(out, m.Message)
	}
	for _, m := range env.Errors {
		out = append(out, m.Message)
	}
	return out
}

// decodeBody reads a JSON body, raising *provider.PlatformError when it
// carries platform messages, and unmarshals it into out.
func decodeBody(r io.Reader, out any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if msgs := platformMessages(data); len(msgs) > 0 {
		return &provider.PlatformError{Messages: msgs}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// parseError converts HTTP error responses to provider errors
func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return provider.ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return provider.ErrUnauthorized
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return provider.ErrProviderUnavailable
	default:
		if msgs := platformMessages(body); len(msgs) > 0 {
			return &provider.ProviderError{
				Code:    resp.StatusCode,
				Message: resp.Status,
				Err:     &provider.PlatformError{Messages: msgs},
			}
		}

		var errResp envelope
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			return &provider.ProviderError{
				Code:    resp.StatusCode,
				Message: errResp.Error,
			}
		}

		return &provider.ProviderError{
			Code:    resp.StatusCode,
			Message: strings.TrimSpace(string(body)),
		}
	}
}

// lastSegment returns the final path element of an href
func lastSegment(href string) string {
	href = strings.TrimRight(href, "/")
	if i := strings.LastIndex(href, "/"); i >= 0 {
		return href[i+1:]
	}
	return href
}

// splitLines turns a plain-text log body into lines
func splitLines(data []byte) []string {
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return []string{}
	}
	return strings.Split(text, "\n")
}

// flexString accepts a JSON string or number
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
