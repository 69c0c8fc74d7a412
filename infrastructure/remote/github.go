package remote

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	apperrors "loom-backend/pkg/errors"
)

// GitHubStore implements Store against the GitHub Contents API. The
// Contents API's sha parameter gives the content-hash-guarded write
// semantics the storage layer is built on.
type GitHubStore struct {
	client  *github.Client
	retry   RetryConfig
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewGitHubStore creates a GitHubStore authenticated with the supplied
// access token. Token issuance and refresh belong to the auth subsystem;
// the store only consumes the token.
func NewGitHubStore(token string, retry RetryConfig, logger *zap.Logger) *GitHubStore {
	if logger == nil {
		logger = zap.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), ts)

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "github-contents",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Semantic results must not trip the breaker.
			return err == nil || !apperrors.IsUnavailable(err)
		},
	})

	return &GitHubStore{
		client:  github.NewClient(httpClient),
		retry:   retry,
		breaker: breaker,
		logger:  logger,
	}
}

// GetFile fetches a file's content and content hash. A missing path (or a
// missing repository) returns a typed NotFound error.
func (s *GitHubStore) GetFile(ctx context.Context, repo RepoRef, path string) (*File, error) {
	var file *File

	err := s.execute(ctx, func() error {
		fileContent, _, _, err := s.client.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, nil)
		if err != nil {
			return s.classify(err, path)
		}
		if fileContent == nil {
			return apperrors.NewNotFoundError(path)
		}
		decoded, err := fileContent.GetContent()
		if err != nil {
			return apperrors.NewEncodingError(path, err)
		}
		file = &File{Content: []byte(decoded), SHA: fileContent.GetSHA()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// PutFile creates or updates a file. A non-empty expectedSHA makes the
// write guarded: the remote rejects it with Conflict when the file moved.
func (s *GitHubStore) PutFile(ctx context.Context, repo RepoRef, path string, content []byte, message, expectedSHA string) (string, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
	}

	var sha string
	err := s.execute(ctx, func() error {
		var resp *github.RepositoryContentResponse
		var err error
		if expectedSHA == "" {
			resp, _, err = s.client.Repositories.CreateFile(ctx, repo.Owner, repo.Name, path, opts)
		} else {
			opts.SHA = github.String(expectedSHA)
			resp, _, err = s.client.Repositories.UpdateFile(ctx, repo.Owner, repo.Name, path, opts)
		}
		if err != nil {
			return s.classify(err, path)
		}
		sha = resp.Content.GetSHA()
		return nil
	})
	if err != nil {
		return "", err
	}
	return sha, nil
}

// DeleteFile removes a file using its last known content hash.
func (s *GitHubStore) DeleteFile(ctx context.Context, repo RepoRef, path, sha, message string) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		SHA:     github.String(sha),
	}

	return s.execute(ctx, func() error {
		_, _, err := s.client.Repositories.DeleteFile(ctx, repo.Owner, repo.Name, path, opts)
		if err != nil {
			return s.classify(err, path)
		}
		return nil
	})
}

// ListDir enumerates one directory. A missing directory returns NotFound;
// callers that treat it as an empty collection translate that themselves.
func (s *GitHubStore) ListDir(ctx context.Context, repo RepoRef, dir string) ([]Entry, error) {
	var entries []Entry

	err := s.execute(ctx, func() error {
		fileContent, dirContent, _, err := s.client.Repositories.GetContents(ctx, repo.Owner, repo.Name, dir, nil)
		if err != nil {
			return s.classify(err, dir)
		}
		if dirContent == nil && fileContent != nil {
			return apperrors.NewValidationError("path is a file, not a directory: " + dir)
		}
		entries = entries[:0]
		for _, item := range dirContent {
			entries = append(entries, Entry{
				Name: item.GetName(),
				Path: item.GetPath(),
				Type: item.GetType(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// CreateRepo creates a private repository owned by the token's user.
func (s *GitHubStore) CreateRepo(ctx context.Context, name string, private bool) (RepoRef, error) {
	var ref RepoRef

	err := s.execute(ctx, func() error {
		created, _, err := s.client.Repositories.Create(ctx, "", &github.Repository{
			Name:        github.String(name),
			Private:     github.Bool(private),
			AutoInit:    github.Bool(true),
			Description: github.String("Loom chat data. Managed by the Loom backend; do not edit by hand."),
		})
		if err != nil {
			return s.classify(err, name)
		}
		ref = RepoRef{Owner: created.GetOwner().GetLogin(), Name: created.GetName()}
		return nil
	})
	if err != nil {
		return RepoRef{}, err
	}
	return ref, nil
}

// Identity returns the login name of the token's user.
func (s *GitHubStore) Identity(ctx context.Context) (string, error) {
	var login string

	err := s.execute(ctx, func() error {
		user, _, err := s.client.Users.Get(ctx, "")
		if err != nil {
			return s.classify(err, "user")
		}
		login = user.GetLogin()
		return nil
	})
	if err != nil {
		return "", err
	}
	return login, nil
}

// execute runs one remote call through the circuit breaker and the bounded
// retry loop. Only Unavailable-class failures are retried.
func (s *GitHubStore) execute(ctx context.Context, operation func() error) error {
	return retryWithBackoff(ctx, s.retry, func() error {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, operation()
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return apperrors.NewUnavailableError("remote store circuit open", err)
		}
		return err
	})
}

// classify maps a go-github error onto the application error taxonomy.
// Only an explicit 404 becomes NotFound; anything ambiguous stays an error
// so a read never silently degrades to "absent".
func (s *GitHubStore) classify(err error, resource string) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return apperrors.NewUnavailableError("remote store rate limited", err)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return apperrors.NewUnavailableError("remote store rate limited", err)
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		status := respErr.Response.StatusCode
		switch {
		case status == http.StatusNotFound:
			return apperrors.NewNotFoundError(resource).WithCause(err)
		case status == http.StatusConflict:
			return apperrors.NewConflictError("content hash mismatch on " + resource).WithCause(err)
		case status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(respErr.Message), "match"):
			// The Contents API reports a stale sha as 422 "... does not match ...".
			return apperrors.NewConflictError("content hash mismatch on " + resource).WithCause(err)
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return apperrors.NewUnauthorizedError("remote store denied access").WithCause(err)
		case status >= http.StatusInternalServerError:
			return apperrors.NewUnavailableError("remote store error", err)
		}
	}

	s.logger.Debug("unclassified remote error", zap.Error(err))
	return apperrors.NewUnavailableError("remote store request failed", err)
}
