package streams

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/provider"
)

type toolkitsResponse struct {
	Toolkits []models.Toolkit `json:"toolkits"`
}

// ListToolkits implements provider.Provider
func (c *Client) ListToolkits(ctx context.Context, t provider.Target) ([]models.Toolkit, error) {
	var resp toolkitsResponse
	if err := c.doJSON(ctx, request{
		method: http.MethodGet,
		url:    t.URL,
		target: t,
	}, &resp); err != nil {
		return nil, fmt.Errorf("list toolkits: %w", err)
	}
	if resp.Toolkits == nil {
		return []models.Toolkit{}, nil
	}
	return resp.Toolkits, nil
}

// GetToolkitIndex implements provider.Provider
func (c *Client) GetToolkitIndex(ctx context.Context, t provider.Target, toolkitID string) ([]byte, error) {
	data, err := c.doRaw(ctx, request{
		method: http.MethodGet,
		url:    t.URL + "/" + toolkitID + "/index",
		target: t,
		accept: "text/xml",
	})
	if err != nil {
		return nil, fmt.Errorf("get toolkit index: %w", err)
	}
	return data, nil
}
