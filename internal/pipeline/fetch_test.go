package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
jobs:
  build:
    docker: [{image: alpine}]
    steps: [checkout]
workflows:
  commit:
    stages: [build]
`

func TestFetch(t *testing.T) {
	t.Run("UsesRefTail", func(t *testing.T) {
		var gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			_, _ = w.Write([]byte(minimalConfig))
		}))
		defer srv.Close()

		spec, err := NewFetcher(WithBaseURL(srv.URL)).
			Fetch(context.Background(), "octocat/hello", "tags/v1.2.3")
		require.NoError(t, err)
		assert.Equal(t, "/octocat/hello/v1.2.3/.zeusci/config.yml", gotPath)
		assert.Contains(t, spec.Workflows, "commit")
	})

	t.Run("BareCommitRef", func(t *testing.T) {
		var gotPath string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			_, _ = w.Write([]byte(minimalConfig))
		}))
		defer srv.Close()

		_, err := NewFetcher(WithBaseURL(srv.URL)).
			Fetch(context.Background(), "octocat/hello", "142eb4bdbbc5")
		require.NoError(t, err)
		assert.Equal(t, "/octocat/hello/142eb4bdbbc5/.zeusci/config.yml", gotPath)
	})

	t.Run("NotFound", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		_, err := NewFetcher(WithBaseURL(srv.URL)).
			Fetch(context.Background(), "octocat/hello", "main")
		assert.ErrorIs(t, err, ErrConfigFetch)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("jobs: ["))
		}))
		defer srv.Close()

		_, err := NewFetcher(WithBaseURL(srv.URL)).
			Fetch(context.Background(), "octocat/hello", "main")
		require.Error(t, err)
	})
}
