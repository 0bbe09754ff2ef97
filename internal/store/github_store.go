package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/claimscope/analyzer/internal/models"
)

// GitHubStore keeps the learning state as a JSON file in a repository.
type GitHubStore struct {
	client *Client
	path   string
	logger *logrus.Logger
}

func NewGitHubStore(client *Client, path string, logger *logrus.Logger) *GitHubStore {
	return &GitHubStore{
		client: client,
		path:   path,
		logger: logger,
	}
}

func (s *GitHubStore) Name() string {
	return "github"
}

// Load reads and decodes the stored state. ErrNotFound is returned when
// the file does not exist yet.
func (s *GitHubStore) Load(ctx context.Context) (*models.LearningState, error) {
	var file *ContentFile
	err := retryOperation(ctx, s.client.retry, s.logger, func() error {
		var err error
		file, err = s.client.GetContent(ctx, s.path)
		return err
	})
	if err != nil {
		return nil, err
	}

	data, err := decodeContent(file.Content)
	if err != nil {
		return nil, &TransportError{Op: "decode " + s.path, Err: err}
	}

	var state models.LearningState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &TransportError{Op: "decode " + s.path, Err: err}
	}
	state.EnsureMaps()

	s.logger.WithFields(logrus.Fields{
		"path":    s.path,
		"sha":     file.SHA,
		"size":    file.Size,
		"version": state.Version,
	}).Info("Learning state loaded from GitHub")
	return &state, nil
}

// Save writes state, reading the current sha first so that updates are
// accepted by the contents API.
func (s *GitHubStore) Save(ctx context.Context, state *models.LearningState) error {
	sha := ""
	current, err := s.client.GetContent(ctx, s.path)
	switch {
	case err == nil:
		sha = current.SHA
	case errors.Is(err, ErrNotFound):
	default:
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode learning state: %w", err)
	}

	contributor := state.LastContributor
	if contributor == "" {
		contributor = "anonymous"
	}
	req := PutContentRequest{
		Message: fmt.Sprintf("Update learning data by %s (%s)", contributor, time.Now().UTC().Format(time.RFC3339)),
		Content: base64.StdEncoding.EncodeToString(data),
		SHA:     sha,
	}

	resp, err := s.client.PutContent(ctx, s.path, req)
	if err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"path":        s.path,
		"commit":      resp.Commit.SHA,
		"contributor": contributor,
		"size":        len(data),
	}).Info("Learning state saved to GitHub")
	return nil
}

// Ping reports whether the backing repository is reachable.
func (s *GitHubStore) Ping(ctx context.Context) error {
	_, err := s.client.Ping(ctx)
	return err
}

// The contents API wraps base64 payloads at 60 columns.
func decodeContent(content string) ([]byte, error) {
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(content)
	return base64.StdEncoding.DecodeString(cleaned)
}
