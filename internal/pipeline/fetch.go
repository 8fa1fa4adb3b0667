package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrConfigFetch indicates the pipeline file could not be retrieved at the
// requested ref; the build is marked failed, not errored.
var ErrConfigFetch = errors.New("could not fetch build config")

// DefaultBaseURL serves raw repository contents upstream.
const DefaultBaseURL = "https://raw.githubusercontent.com"

const configPath = ".zeusci/config.yml"

// Fetcher retrieves pipeline files over HTTP.
type Fetcher struct {
	client *resty.Client
}

// FetcherOption configures NewFetcher.
type FetcherOption func(*Fetcher)

// WithBaseURL points the fetcher at a different content host.
func WithBaseURL(baseURL string) FetcherOption {
	return func(f *Fetcher) { f.client.SetBaseURL(baseURL) }
}

// NewFetcher returns a Fetcher against the upstream raw-content host.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client: resty.New().
			SetBaseURL(DefaultBaseURL).
			SetTimeout(30 * time.Second),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads and parses the pipeline file for the repo slab at the
// given ref. Only the last path segment of the ref selects the revision:
// "tags/v1.2.3" fetches at "v1.2.3", a bare commit SHA at the SHA.
func (f *Fetcher) Fetch(ctx context.Context, slab, ref string) (*Spec, error) {
	tail := ref
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		tail = ref[i+1:]
	}

	resp, err := f.client.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/%s/%s/%s", slab, tail, configPath))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigFetch, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%w: status %d for %s at %s", ErrConfigFetch, resp.StatusCode(), slab, tail)
	}
	return Parse(resp.Body())
}
