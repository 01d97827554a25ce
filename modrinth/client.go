package modrinth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"modkeeper/config"
	"modkeeper/errs"
)

const (
	modrinthAPIURL = "https://api.modrinth.com/v2"
	defaultTimeout = 10 * time.Second
)

// StatusError is a non-2xx registry response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api request failed: status %d, body: %s", e.StatusCode, e.Body)
}

// Client handles communication with the Modrinth API.
type Client struct {
	BaseURL    string
	APIKey     string
	UserAgent  string
	HTTPClient *http.Client
	// DownloadClient carries no timeout of its own; downloads are bounded by the caller's context.
	DownloadClient *http.Client
}

// NewClient creates a new Modrinth API client using the provided configuration.
func NewClient(cfg config.Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("USERAGENT is not configured")
	}

	return &Client{
		BaseURL:   modrinthAPIURL,
		APIKey:    cfg.ModrinthAPIKey,
		UserAgent: cfg.UserAgent,
		HTTPClient: &http.Client{
			Timeout: defaultTimeout,
		},
		DownloadClient: &http.Client{},
	}, nil
}

// classify maps transport and status failures onto the error kinds.
func classify(op string, err error) error {
	var classified *errs.Error
	if errors.As(err, &classified) {
		return err
	}
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		switch {
		case statusErr.StatusCode == http.StatusNotFound:
			return errs.E(errs.KindNotFound, op, err)
		case statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500:
			return errs.E(errs.KindTransient, op, err)
		default:
			return errs.E(errs.KindUnknown, op, err)
		}
	case errors.Is(err, context.DeadlineExceeded):
		return errs.E(errs.KindTransient, op, fmt.Errorf("timeout: %w", err))
	case errors.Is(err, context.Canceled):
		return err
	}
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return errs.E(errs.KindTransient, op, err)
	}
	return errs.E(errs.KindUnknown, op, err)
}

func (c *Client) makeRequest(ctx context.Context, method, path string, queryParams url.Values, target interface{}, requiresAuth bool) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if queryParams != nil {
		req.URL.RawQuery = queryParams.Encode()
	}

	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")
	if requiresAuth {
		if c.APIKey == "" {
			return errs.Validationf(path, "authentication required, but MODRINTH_API_KEY is not set")
		}
		req.Header.Set("Authorization", c.APIKey)
	} else if c.APIKey != "" {
		req.Header.Set("Authorization", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode json response: %w", err)
		}
	}
	return nil
}

// GetFollowedProjects returns the projects followed by the API key's owner.
func (c *Client) GetFollowedProjects(ctx context.Context) ([]Project, error) {
	var user User
	if err := c.makeRequest(ctx, http.MethodGet, "/user", nil, &user, true); err != nil {
		return nil, classify("get current user", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("could not determine user ID from API key")
	}

	var projects []Project
	if err := c.makeRequest(ctx, http.MethodGet, fmt.Sprintf("/user/%s/follows", user.ID), nil, &projects, true); err != nil {
		return nil, classify("get followed projects", err)
	}
	return projects, nil
}

// ListVersions retrieves versions for a project, filtered server-side by game version and loader.
// Empty filters are omitted.
func (c *Client) ListVersions(ctx context.Context, projectID, loader, gameVersion string) ([]Version, error) {
	params := url.Values{}
	if gameVersion != "" {
		params.Add("game_versions", "[\""+gameVersion+"\"]")
	}
	if loader != "" {
		params.Add("loaders", "[\""+loader+"\"]")
	}

	var versions []Version
	if err := c.makeRequest(ctx, http.MethodGet, fmt.Sprintf("/project/%s/version", url.PathEscape(projectID)), params, &versions, false); err != nil {
		return nil, classify(fmt.Sprintf("list versions of '%s'", projectID), err)
	}
	return versions, nil
}

// GetVersion retrieves a single version of a project.
func (c *Client) GetVersion(ctx context.Context, projectID, versionID string) (*Version, error) {
	var version Version
	if err := c.makeRequest(ctx, http.MethodGet, fmt.Sprintf("/version/%s", url.PathEscape(versionID)), nil, &version, false); err != nil {
		return nil, classify(fmt.Sprintf("get version '%s'", versionID), err)
	}
	if projectID != "" && version.ProjectID != projectID {
		return nil, errs.E(errs.KindNotFound, fmt.Sprintf("get version '%s'", versionID),
			fmt.Errorf("version belongs to project '%s', not '%s'", version.ProjectID, projectID))
	}
	return &version, nil
}

// GetVersionByHash retrieves version information using the file's SHA1 hash.
func (c *Client) GetVersionByHash(ctx context.Context, hash string) (*Version, error) {
	var version Version
	if err := c.makeRequest(ctx, http.MethodGet, fmt.Sprintf("/version_file/%s", hash), nil, &version, false); err != nil {
		return nil, classify(fmt.Sprintf("get version by hash '%s'", hash), err)
	}
	return &version, nil
}

// GetProject retrieves details for a specific project.
func (c *Client) GetProject(ctx context.Context, idOrSlug string) (*Project, error) {
	var project Project
	if err := c.makeRequest(ctx, http.MethodGet, fmt.Sprintf("/project/%s", url.PathEscape(idOrSlug)), nil, &project, false); err != nil {
		return nil, classify(fmt.Sprintf("get project '%s'", idOrSlug), err)
	}
	return &project, nil
}

// Download opens the artifact at downloadURL. The caller closes the body.
func (c *Client) Download(ctx context.Context, downloadURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, errs.E(errs.KindValidation, "download", fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/octet-stream")

	resp, err := c.DownloadClient.Do(req)
	if err != nil {
		return nil, classify("download", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, classify("download", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))})
	}
	return resp.Body, nil
}
