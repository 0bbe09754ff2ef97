package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

const DefaultGitHubBaseURL = "https://api.github.com"

type GitHubOptions struct {
	BaseURL string
	Owner   string
	Repo    string
	Branch  string
	Token   string
	Timeout time.Duration
	Retry   RetryConfig
}

// Client talks to the GitHub contents API of a single repository.
type Client struct {
	baseURL    string
	owner      string
	repo       string
	branch     string
	token      string
	httpClient *http.Client
	retry      RetryConfig
	cb         *gobreaker.CircuitBreaker
	logger     *logrus.Logger
}

func NewClient(opts GitHubOptions, logger *logrus.Logger) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultGitHubBaseURL
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retry := opts.Retry
	if retry.MaxRetries == 0 && retry.BaseDelay == 0 {
		retry = DefaultRetryConfig()
	}

	cbSettings := gobreaker.Settings{
		Name:        "github-contents",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		// Missing files and write conflicts are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || IsConflict(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	}

	return &Client{
		baseURL:    baseURL,
		owner:      opts.Owner,
		repo:       opts.Repo,
		branch:     opts.Branch,
		token:      opts.Token,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry,
		cb:         gobreaker.NewCircuitBreaker(cbSettings),
		logger:     logger,
	}
}

func (c *Client) contentsEndpoint(path string) string {
	return fmt.Sprintf("/repos/%s/%s/contents/%s", url.PathEscape(c.owner), url.PathEscape(c.repo), strings.TrimLeft(path, "/"))
}

// GetContent fetches a file. A missing file yields ErrNotFound.
func (c *Client) GetContent(ctx context.Context, path string) (*ContentFile, error) {
	endpoint := c.contentsEndpoint(path)
	if c.branch != "" {
		endpoint += "?ref=" + url.QueryEscape(c.branch)
	}
	var file ContentFile
	if err := c.execute(ctx, http.MethodGet, endpoint, nil, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// PutContent creates or updates a file.
func (c *Client) PutContent(ctx context.Context, path string, req PutContentRequest) (*PutContentResponse, error) {
	if req.Branch == "" {
		req.Branch = c.branch
	}
	var response PutContentResponse
	if err := c.execute(ctx, http.MethodPut, c.contentsEndpoint(path), req, &response); err != nil {
		var ce *ConflictError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return nil, err
	}
	return &response, nil
}

// Ping checks that the repository is reachable with the configured token.
func (c *Client) Ping(ctx context.Context) (*Repository, error) {
	var repo Repository
	endpoint := fmt.Sprintf("/repos/%s/%s", url.PathEscape(c.owner), url.PathEscape(c.repo))
	if err := c.execute(ctx, http.MethodGet, endpoint, nil, &repo); err != nil {
		return nil, err
	}
	return &repo, nil
}

// BreakerState exposes the circuit breaker state for health reporting.
func (c *Client) BreakerState() string {
	return c.cb.State().String()
}

func (c *Client) execute(ctx context.Context, method, endpoint string, payload, result interface{}) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.makeRequest(ctx, method, endpoint, payload, result)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &TransportError{Op: method + " " + endpoint, Err: err}
	}
	return err
}

func (c *Client) makeRequest(ctx context.Context, method, endpoint string, payload, result interface{}) error {
	reqURL := c.baseURL + endpoint
	op := method + " " + endpoint

	var body io.Reader
	var contentLength int

	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
		contentLength = len(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"url":      reqURL,
		"has_body": payload != nil,
		"size":     contentLength,
	}).Debug("Making GitHub API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	c.logger.WithFields(logrus.Fields{
		"status_code":   resp.StatusCode,
		"method":        method,
		"url":           reqURL,
		"response_size": len(responseBody),
	}).Debug("GitHub API response received")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := string(responseBody)
		var apiErr apiError
		if json.Unmarshal(responseBody, &apiErr) == nil && apiErr.Message != "" {
			message = apiErr.Message
		}

		switch resp.StatusCode {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusConflict, http.StatusUnprocessableEntity:
			return &ConflictError{StatusCode: resp.StatusCode, Message: message}
		default:
			return &TransportError{
				Op:         op,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("API request failed: %s", message),
			}
		}
	}

	if result != nil && len(responseBody) > 0 {
		if err := json.Unmarshal(responseBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
