// Package github imports repositories hosted on GitHub as local records.
package github

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	apperrors "github.com/user/nostrgit/internal/errors"
	"github.com/user/nostrgit/internal/identity"
	"github.com/user/nostrgit/internal/repo"
)

// ownerWeight is the share given to the importing session's own entry.
const ownerWeight = 100

// Client wraps the GitHub API client.
type Client struct {
	client *github.Client
	now    func() time.Time
}

// NewClient creates a new GitHub API client.
// If token is empty, an unauthenticated client is created (with lower rate limits).
func NewClient(token string) *Client {
	var client *github.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc := oauth2.NewClient(context.Background(), ts)
		client = github.NewClient(tc)
	} else {
		client = github.NewClient(nil)
	}

	return &Client{client: client, now: time.Now}
}

// RepoInfo contains basic repository information.
type RepoInfo struct {
	Owner         string
	Name          string
	FullName      string
	Description   string
	DefaultBranch string
	CloneURL      string
	URL           string
	Stars         int
	Forks         int
	Archived      bool
}

// ParseFullName splits "owner/name" (optionally a github.com URL) into its
// parts.
func ParseFullName(s string) (owner, name string, err error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "github.com/")
	s = strings.TrimSuffix(strings.TrimSuffix(s, "/"), ".git")

	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q, expected owner/name", s)
	}
	return parts[0], parts[1], nil
}

// GetRepository retrieves information about a repository.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*RepoInfo, error) {
	r, resp, err := c.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, c.wrap(resp, owner+"/"+name, err)
	}

	return &RepoInfo{
		Owner:         owner,
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		DefaultBranch: r.GetDefaultBranch(),
		CloneURL:      r.GetCloneURL(),
		URL:           r.GetHTMLURL(),
		Stars:         r.GetStargazersCount(),
		Forks:         r.GetForksCount(),
		Archived:      r.GetArchived(),
	}, nil
}

// ListContributors returns the repository's contributors weighted by their
// contribution count.
func (c *Client) ListContributors(ctx context.Context, owner, name string) ([]repo.Contributor, error) {
	opts := &github.ListContributorsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	var out []repo.Contributor
	for {
		page, resp, err := c.client.Repositories.ListContributors(ctx, owner, name, opts)
		if err != nil {
			return nil, c.wrap(resp, owner+"/"+name, err)
		}
		for _, gc := range page {
			out = append(out, repo.Contributor{
				GithubLogin: gc.GetLogin(),
				Picture:     gc.GetAvatarURL(),
				Weight:      gc.GetContributions(),
				Role:        repo.RoleContributor,
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return repo.SanitizeContributors(out, repo.SanitizeOptions{}), nil
}

// ImportRepository builds a local, never-published record for a GitHub
// repository owned by ownerHex.
func (c *Client) ImportRepository(ctx context.Context, owner, name, ownerHex string) (repo.Repository, error) {
	npub := identity.Npub(ownerHex)
	if npub == "" {
		return repo.Repository{}, fmt.Errorf("import %s/%s: %w", owner, name, apperrors.ErrInvalidIdentifier)
	}

	info, err := c.GetRepository(ctx, owner, name)
	if err != nil {
		return repo.Repository{}, err
	}
	contributors, err := c.ListContributors(ctx, owner, name)
	if err != nil {
		return repo.Repository{}, err
	}

	contributors = append([]repo.Contributor{{Pubkey: ownerHex, Weight: ownerWeight, Role: repo.RoleOwner}}, contributors...)
	now := c.now().UnixMilli()

	r := repo.Repository{
		Entity:         npub,
		OwnerPubkey:    ownerHex,
		Repo:           info.Name,
		Slug:           repo.Slugify(info.Name),
		Name:           info.Name,
		Description:    info.Description,
		SourceURL:      info.URL,
		DefaultBranch:  info.DefaultBranch,
		Contributors:   contributors,
		Status:         repo.StatusLocal,
		CreatedAt:      now,
		LastModifiedAt: now,
		Archived:       info.Archived,
	}
	if info.CloneURL != "" {
		r.Clone = []string{info.CloneURL}
	}
	return repo.Canonicalize(r), nil
}

// GetRateLimit returns the current rate limit status.
func (c *Client) GetRateLimit(ctx context.Context) (*github.RateLimits, error) {
	limits, _, err := c.client.RateLimit.Get(ctx)
	if err != nil {
		return nil, err
	}
	return limits, nil
}

func (c *Client) wrap(resp *github.Response, target string, err error) error {
	if resp != nil && resp.StatusCode == 404 {
		return fmt.Errorf("github %s: %w", target, apperrors.ErrNotFound)
	}
	var rle *github.RateLimitError
	if errors.As(err, &rle) {
		return fmt.Errorf("github %s: rate limit exceeded: %w", target, err)
	}
	return &apperrors.NetworkError{Target: "github " + target, Err: err}
}
