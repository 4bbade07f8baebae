package streams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/provider"
)

type uploadBundleResponse struct {
	BundleID flexString `json:"bundleId"`
}

type submitJobBody struct {
	Application             string                   `json:"application"`
	JobGroup                string                   `json:"jobGroup"`
	JobName                 string                   `json:"jobName"`
	SubmitParameters        []models.SubmitParameter `json:"submitParameters"`
	JobConfigurationOverlay map[string]any           `json:"jobConfigurationOverlay"`
	ApplicationCredentials  applicationCredentials   `json:"applicationCredentials"`
}

type applicationCredentials struct {
	BearerToken string `json:"bearerToken,omitempty"`
}

type submissionResponse struct {
	ID     flexString              `json:"id"`
	Status models.SubmissionStatus `json:"status"`
	Job    string                  `json:"job"`
	Name   string                  `json:"name"`
}

func (r submissionResponse) info() models.SubmissionInfo {
	return models.SubmissionInfo{
		ID:     string(r.ID),
		Status: r.Status,
		Job:    r.Job,
		Name:   r.Name,
	}
}

// UploadApplicationBundle implements provider.Provider
func (c *Client) UploadApplicationBundle(ctx context.Context, t provider.Target, bundlePath string) (string, error) {
	f, err := os.Open(bundlePath)
	if err != nil {
		return "", fmt.Errorf("open application bundle: %w", err)
	}
	defer f.Close()

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	var resp uploadBundleResponse
	if err := c.doJSON(ctx, request{
		method:      http.MethodPost,
		url:         t.URL + "/applicationbundles",
		target:      t,
		body:        f,
		length:      size,
		contentType: "application/x-jar",
	}, &resp); err != nil {
		return "", fmt.Errorf("upload application bundle: %w", err)
	}
	if resp.BundleID == "" {
		return "", &provider.MissingIdentifierError{Resource: "application bundle"}
	}
	return string(resp.BundleID), nil
}

// SubmitJob implements provider.Provider
func (c *Client) SubmitJob(ctx context.Context, t provider.Target, req provider.SubmitJobRequest) (models.SubmissionInfo, error) {
	params := req.Params
	if params == nil {
		params = []models.SubmitParameter{}
	}
	jobGroup := req.JobGroup
	if jobGroup == "" {
		jobGroup = "default"
	}
	payload, err := json.Marshal(submitJobBody{
		Application:             req.Application,
		JobGroup:                jobGroup,
		JobName:                 req.JobName,
		SubmitParameters:        params,
		JobConfigurationOverlay: map[string]any{},
		ApplicationCredentials:  applicationCredentials{BearerToken: req.BearerToken},
	})
	if err != nil {
		return models.SubmissionInfo{}, fmt.Errorf("marshal submission: %w", err)
	}

	var resp submissionResponse
	if err := c.doJSON(ctx, request{
		method: http.MethodPost,
		url:    t.URL + "/jobsubmissions",
		target: t,
		body:   bytes.NewReader(payload),
	}, &resp); err != nil {
		return models.SubmissionInfo{}, fmt.Errorf("submit job: %w", err)
	}
	if resp.ID == "" {
		return models.SubmissionInfo{}, &provider.MissingIdentifierError{Resource: "submission"}
	}

	c.logger.Info("provider: job submitted",
		"submission_id", string(resp.ID),
		"status", resp.Status)
	return resp.info(), nil
}

// GetSubmission implements provider.Provider
func (c *Client) GetSubmission(ctx context.Context, t provider.Target, submissionID string) (models.SubmissionInfo, error) {
	var resp submissionResponse
	if err := c.doJSON(ctx, request{
		method: http.MethodGet,
		url:    t.URL + "/jobsubmissions/" + submissionID,
		target: t,
	}, &resp); err != nil {
		return models.SubmissionInfo{}, fmt.Errorf("get submission: %w", err)
	}
	info := resp.info()
	if info.ID == "" {
		info.ID = submissionID
	}
	return info, nil
}

// GetSubmissionLogMessages implements provider.Provider
func (c *Client) GetSubmissionLogMessages(ctx context.Context, t provider.Target, submissionID string) ([]string, error) {
	data, err := c.doRaw(ctx, request{
		method: http.MethodGet,
		url:    t.URL + "/jobsubmissions/" + submissionID + "/logmessages",
		target: t,
		accept: "text/plain",
	})
	if err != nil {
		return nil, fmt.Errorf("get submission log messages: %w", err)
	}
	return splitLines(data), nil
}
