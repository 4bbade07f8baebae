package streams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/provider"
)

type createBuildBody struct {
	InactivityTimeout int    `json:"inactivityTimeout"`
	Incremental       bool   `json:"incremental"`
	Name              string `json:"name"`
	Originator        string `json:"originator"`
	Type              string `json:"type"`
}

type createBuildResponse struct {
	Build string `json:"build"`
	ID    string `json:"id"`
}

type buildStatusResponse struct {
	ID                  string             `json:"id"`
	CreationTime        int64              `json:"creationTime"`
	CreationUser        string             `json:"creationUser"`
	LastActivityTime    int64              `json:"lastActivityTime"`
	Name                string             `json:"name"`
	ProcessingStartTime int64              `json:"processingStartTime"`
	ProcessingEndTime   int64              `json:"processingEndTime"`
	Status              models.BuildStatus `json:"status"`
	SubmitCount         int                `json:"submitCount"`
}

type artifactsResponse struct {
	Artifacts []models.Artifact `json:"artifacts"`
}

type startBuildBody struct {
	Type                 string         `json:"type"`
	BuildConfigOverrides map[string]any `json:"buildConfigOverrides"`
}

// CreateBuild implements provider.Provider
func (c *Client) CreateBuild(ctx context.Context, t provider.Target, req provider.CreateBuildRequest) (string, error) {
	body := createBuildBody{
		InactivityTimeout: req.InactivityTimeout,
		Incremental:       req.Incremental,
		Name:              req.Name,
		Originator:        req.Originator,
		Type:              "application",
	}
	if body.InactivityTimeout == 0 {
		body.InactivityTimeout = 15
	}
	if body.Originator == "" {
		body.Originator = "unknown"
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal build request: %w", err)
	}

	var resp createBuildResponse
	if err := c.doJSON(ctx, request{
		method: http.MethodPost,
		url:    t.URL,
		target: t,
		body:   bytes.NewReader(payload),
	}, &resp); err != nil {
		return "", fmt.Errorf("create build: %w", err)
	}

	id := resp.ID
	if resp.Build != "" {
		id = lastSegment(resp.Build)
	}
	if id == "" {
		return "", &provider.MissingIdentifierError{Resource: "build"}
	}

	c.logger.Info("provider: build created",
		"build_id", id,
		"name", req.Name)
	return id, nil
}

// UploadSource implements provider.Provider
func (c *Client) UploadSource(ctx context.Context, t provider.Target, buildID, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open source archive: %w", err)
	}
	defer f.Close()

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	data, err := c.doRaw(ctx, request{
		method:      http.MethodPut,
		url:         t.URL + "/" + buildID,
		target:      t,
		body:        f,
		length:      size,
		contentType: "application/zip",
	})
	if err != nil {
		return fmt.Errorf("upload source: %w", err)
	}
	if msgs := platformMessages(data); len(msgs) > 0 {
		return &provider.PlatformError{Messages: msgs}
	}
	return nil
}

// StartBuild implements provider.Provider
func (c *Client) StartBuild(ctx context.Context, t provider.Target, buildID string) error {
	payload, _ := json.Marshal(startBuildBody{Type: "submit", BuildConfigOverrides: map[string]any{}})
	if err := c.doJSON(ctx, request{
		method: http.MethodPost,
		url:    t.URL + "/" + buildID + "/actions",
		target: t,
		body:   bytes.NewReader(payload),
	}, nil); err != nil {
		return fmt.Errorf("start build: %w", err)
	}
	return nil
}

// GetBuildStatus implements provider.Provider
func (c *Client) GetBuildStatus(ctx context.Context, t provider.Target, buildID string) (models.BuildInfo, error) {
	var resp buildStatusResponse
	if err := c.doJSON(ctx, request{
		method: http.MethodGet,
		url:    t.URL + "/" + buildID,
		target: t,
	}, &resp); err != nil {
		return models.BuildInfo{}, fmt.Errorf("get build status: %w", err)
	}
	info := models.BuildInfo{
		BuildID:             resp.ID,
		Name:                resp.Name,
		Status:              resp.Status,
		CreationTime:        resp.CreationTime,
		CreationUser:        resp.CreationUser,
		LastActivityTime:    resp.LastActivityTime,
		ProcessingStartTime: resp.ProcessingStartTime,
		ProcessingEndTime:   resp.ProcessingEndTime,
		SubmitCount:         resp.SubmitCount,
	}
	if info.BuildID == "" {
		info.BuildID = buildID
	}
	return info, nil
}

// GetBuildLogMessages implements provider.Provider
func (c *Client) GetBuildLogMessages(ctx context.Context, t provider.Target, buildID string) ([]string, error) {
	data, err := c.doRaw(ctx, request{
		method: http.MethodGet,
		url:    t.URL + "/" + buildID + "/logmessages",
		target: t,
		accept: "text/plain",
	})
	if err != nil {
		return nil, fmt.Errorf("get build log messages: %w", err)
	}
	return splitLines(data), nil
}

// GetBuildArtifacts implements provider.Provider
func (c *Client) GetBuildArtifacts(ctx context.Context, t provider.Target, buildID string) ([]models.Artifact, error) {
	var resp artifactsResponse
	if err := c.doJSON(ctx, request{
		method: http.MethodGet,
		url:    t.URL + "/" + buildID + "/artifacts",
		target: t,
	}, &resp); err != nil {
		return nil, fmt.Errorf("get build artifacts: %w", err)
	}
	if resp.Artifacts == nil {
		return []models.Artifact{}, nil
	}
	return resp.Artifacts, nil
}

// GetADL implements provider.Provider
func (c *Client) GetADL(ctx context.Context, t provider.Target, buildID, artifactID string) ([]byte, error) {
	data, err := c.doRaw(ctx, request{
		method: http.MethodGet,
		url:    t.URL + "/" + buildID + "/artifacts/" + artifactID + "/adl",
		target: t,
		accept: "text/xml",
	})
	if err != nil {
		return nil, fmt.Errorf("get adl: %w", err)
	}
	return data, nil
}

// DownloadApplicationBundle implements provider.Provider
func (c *Client) DownloadApplicationBundle(ctx context.Context, t provider.Target, buildID, artifactID string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		url:    t.URL + "/" + buildID + "/artifacts/" + artifactID + "/applicationbundle",
		target: t,
		accept: "application/x-jar",
	})
	if err != nil {
		return nil, fmt.Errorf("download application bundle: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, fmt.Errorf("download application bundle: %w", parseError(resp))
	}
	return resp.Body, nil
}
