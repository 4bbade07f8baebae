package streams

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/provider"
)

type platformAuthResponse struct {
	Token string `json:"token"`
}

type instanceTokenResponse struct {
	AccessToken string `json:"AccessToken"`
}

type serviceInstancesResponse struct {
	RequestObj []serviceInstance `json:"requestObj"`
}

type serviceInstance struct {
	ID              flexString `json:"ID"`
	DisplayName     string     `json:"ServiceInstanceDisplayName"`
	Type            string     `json:"ServiceInstanceType"`
	Version         string     `json:"ServiceInstanceVersion"`
	Namespace       string     `json:"ServiceInstanceNamespace"`
	CreateArguments struct {
		ConnectionInfo models.ConnectionInfo `json:"connection-info"`
	} `json:"CreateArguments"`
}

type resourcesResponse struct {
	Resources []provider.Resource `json:"resources"`
}

type restInstancesResponse struct {
	Instances []struct {
		Self string `json:"self"`
	} `json:"instances"`
}

// postAuth sends a token request and reads the body whatever the status.
// Only transport failures and platform message bodies are errors.
func (c *Client) postAuth(ctx context.Context, r request) (int, []byte, error) {
	resp, err := c.do(ctx, r)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	if msgs := platformMessages(data); len(msgs) > 0 {
		return resp.StatusCode, nil, &provider.PlatformError{Messages: msgs}
	}
	return resp.StatusCode, data, nil
}

// AuthenticatePlatform implements provider.Provider
func (c *Client) AuthenticatePlatform(ctx context.Context, t provider.Target, username, password string) (provider.AuthResult, error) {
	payload, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return provider.AuthResult{}, fmt.Errorf("marshal credentials: %w", err)
	}

	code, data, err := c.postAuth(ctx, request{
		method: http.MethodPost,
		url:    strings.TrimRight(t.URL, "/") + "/icp4d-api/v1/authorize",
		body:   bytes.NewReader(payload),
	})
	if err != nil {
		return provider.AuthResult{}, fmt.Errorf("authenticate platform: %w", err)
	}

	result := provider.AuthResult{StatusCode: code}
	if code == http.StatusOK {
		var body platformAuthResponse
		if err := json.Unmarshal(data, &body); err != nil {
			return result, fmt.Errorf("decode platform token: %w", err)
		}
		result.Token = body.Token
	}

	c.logger.Info("provider: platform authentication",
		"username", username,
		"status", code)
	return result, nil
}

// ListServiceInstances implements provider.Provider
func (c *Client) ListServiceInstances(ctx context.Context, t provider.Target) ([]models.Instance, error) {
	var resp serviceInstancesResponse
	if err := c.doJSON(ctx, request{
		method: http.MethodGet,
		url:    strings.TrimRight(t.URL, "/") + "/zen-data/v2/serviceInstance",
		target: t,
	}, &resp); err != nil {
		return nil, fmt.Errorf("list service instances: %w", err)
	}

	instances := make([]models.Instance, 0, len(resp.RequestObj))
	for _, si := range resp.RequestObj {
		if si.Type != "streams" {
			continue
		}
		instances = append(instances, models.Instance{
			ID:          string(si.ID),
			DisplayName: si.DisplayName,
			Type:        si.Type,
			Version:     si.Version,
			Namespace:   si.Namespace,
			Connection:  si.CreateArguments.ConnectionInfo,
		})
	}
	return instances, nil
}

// AuthenticateInstance implements provider.Provider
func (c *Client) AuthenticateInstance(ctx context.Context, t provider.Target, instanceName string) (provider.AuthResult, error) {
	payload, err := json.Marshal(map[string]string{"serviceInstanceDisplayname": instanceName})
	if err != nil {
		return provider.AuthResult{}, fmt.Errorf("marshal instance request: %w", err)
	}

	code, data, err := c.postAuth(ctx, request{
		method: http.MethodPost,
		url:    strings.TrimRight(t.URL, "/") + "/zen-data/v2/serviceInstance/token",
		target: t,
		body:   bytes.NewReader(payload),
	})
	if err != nil {
		return provider.AuthResult{}, fmt.Errorf("authenticate instance: %w", err)
	}

	result := provider.AuthResult{StatusCode: code}
	if code == http.StatusOK {
		var body instanceTokenResponse
		if err := json.Unmarshal(data, &body); err != nil {
			return result, fmt.Errorf("decode instance token: %w", err)
		}
		result.Token = body.AccessToken
	}

	c.logger.Info("provider: instance authentication",
		"instance", instanceName,
		"status", code)
	return result, nil
}

// GetResources implements provider.Provider
func (c *Client) GetResources(ctx context.Context, t provider.Target) ([]provider.Resource, error) {
	var resp resourcesResponse
	if err := c.doJSON(ctx, request{
		method: http.MethodGet,
		url:    t.URL,
		target: t,
	}, &resp); err != nil {
		return nil, fmt.Errorf("get resources: %w", err)
	}
	return resp.Resources, nil
}

// AuthenticateStandalone implements provider.Provider. The token endpoint
// answers with the bare token, either as text or as a JSON string.
func (c *Client) AuthenticateStandalone(ctx context.Context, t provider.Target) (provider.AuthResult, error) {
	payload, _ := json.Marshal(map[string]string{"audience": "streams"})

	code, data, err := c.postAuth(ctx, request{
		method: http.MethodPost,
		url:    t.URL,
		target: t,
		body:   bytes.NewReader(payload),
	})
	if err != nil {
		return provider.AuthResult{}, fmt.Errorf("authenticate standalone: %w", err)
	}

	result := provider.AuthResult{StatusCode: code}
	if code == http.StatusOK {
		token := strings.TrimSpace(string(data))
		var quoted string
		if json.Unmarshal([]byte(token), &quoted) == nil {
			token = quoted
		}
		result.Token = token
	}

	c.logger.Info("provider: standalone authentication",
		"username", t.Username,
		"status", code)
	return result, nil
}

// GetInstanceRestURL implements provider.Provider. t.URL is the instances
// root; the listing lives at /streams/rest/instances on the same host.
func (c *Client) GetInstanceRestURL(ctx context.Context, t provider.Target) (string, error) {
	listing := t.URL
	if u, err := url.Parse(t.URL); err == nil && u.Host != "" {
		u.Path = "/streams/rest/instances"
		u.RawQuery = ""
		listing = u.String()
	}

	var resp restInstancesResponse
	if err := c.doJSON(ctx, request{
		method: http.MethodGet,
		url:    listing,
		target: t,
	}, &resp); err != nil {
		return "", fmt.Errorf("get instance rest url: %w", err)
	}
	if len(resp.Instances) == 0 || resp.Instances[0].Self == "" {
		return "", &provider.MissingIdentifierError{Resource: "instance"}
	}
	return resp.Instances[0].Self, nil
}
