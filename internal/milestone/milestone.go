// Package milestone fetches the external progress counts used by milestone triggers.
package milestone

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mdouchement/timecapsule/internal/tcerror"
	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
	"golang.org/x/oauth2"
)

// DefaultGitHubAPI is the public GitHub REST endpoint.
const DefaultGitHubAPI = "https://api.github.com"

type (
	// A Provider returns the progress count of the account identified by the given credential.
	// Failures are reported as *tcerror.ProviderError.
	Provider interface {
		Count(ctx context.Context, credential string) (int, error)
	}

	// A Fixed provider always returns the same count.
	// It is used to simulate milestones.
	Fixed int

	// GitHub counts the merged pull requests authored by the token owner.
	GitHub struct {
		endpoint string
		client   *http.Client
	}
)

// Count implements Provider.
func (f Fixed) Count(context.Context, string) (int, error) {
	return int(f), nil
}

// NewGitHub returns a GitHub provider for the given API endpoint.
// An empty endpoint means the public API.
func NewGitHub(endpoint string) *GitHub {
	if endpoint == "" {
		endpoint = DefaultGitHubAPI
	}

	return &GitHub{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   http.DefaultClient,
	}
}

// WithTimeout bounds every HTTP call of the provider.
func (g *GitHub) WithTimeout(timeout time.Duration) *GitHub {
	g.client = &http.Client{Timeout: timeout}
	return g
}

// Count implements Provider.
func (g *GitHub) Count(ctx context.Context, credential string) (int, error) {
	count, err := g.count(ctx, credential)
	if err != nil {
		return 0, tcerror.NewProviderError("github", err)
	}
	return count, nil
}

func (g *GitHub) count(ctx context.Context, credential string) (int, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: credential}))

	user, err := g.get(ctx, client, "/user")
	if err != nil {
		return 0, errors.Wrap(err, "could not fetch authenticated user")
	}

	login := string(user.GetStringBytes("login"))
	if login == "" {
		return 0, errors.New("no login for the given credential")
	}

	query := url.Values{}
	query.Set("q", fmt.Sprintf("type:pr author:%s is:merged", login))
	query.Set("per_page", "1")

	search, err := g.get(ctx, client, "/search/issues?"+query.Encode())
	if err != nil {
		return 0, errors.Wrap(err, "could not search pull requests")
	}

	if !search.Exists("total_count") {
		return 0, errors.New("missing total_count in search response")
	}
	return search.GetInt("total_count"), nil
}

func (g *GitHub) get(ctx context.Context, client *http.Client, path string) (*fastjson.Value, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "could not read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d", resp.StatusCode)
	}

	v, err := fastjson.ParseBytes(body)
	return v, errors.Wrap(err, "could not parse response")
}
