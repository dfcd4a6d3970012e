package jsonld

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverLoadsInlineDocument(t *testing.T) {
	r := NewResolver(Options{})
	g := NewGraph()
	require.NoError(t, r.Load(context.Background(), g, map[string]any{
		"id": "https://peer.example.com/note/1", "type": "Note",
	}))
	assert.True(t, g.Has("https://peer.example.com/note/1"))
}

func TestResolverFetchesURL(t *testing.T) {
	var gotAccept atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAccept.Store(r.Header.Get("Accept"))
		fmt.Fprintf(w, `{"id":%q,"type":"Person","inbox":"%s/inbox"}`, srvURL(r), srvURL(r))
	}))
	defer srv.Close()

	r := NewResolver(Options{Accept: "application/activity+json"})
	g := NewGraph()
	url := srv.URL + "/actor"
	require.NoError(t, r.Load(context.Background(), g, url))

	assert.True(t, g.Has(url))
	assert.Equal(t, "Person", g.Node(url)["type"])
	assert.Equal(t, "application/activity+json", gotAccept.Load())

	// A second load of a known subject is a no-op, even without a cache.
	require.NoError(t, r.Load(context.Background(), g, url))
}

// srvURL reconstructs the full URL of a request to the test server.
func srvURL(r *http.Request) string {
	return "http://" + r.Host + r.URL.Path
}

func TestResolverAliasesFetchURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The document declares a canonical id that differs from the fetch URL.
		fmt.Fprint(w, `{"id":"https://canonical.example.org/actor","type":"Person"}`)
	}))
	defer srv.Close()

	r := NewResolver(Options{})
	g := NewGraph()
	require.NoError(t, r.Load(context.Background(), g, srv.URL+"/actor"))
	assert.True(t, g.Has(srv.URL+"/actor"))
	assert.True(t, g.Has("https://canonical.example.org/actor"))
}

func TestResolverReportsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	r := NewResolver(Options{})
	err := r.Load(context.Background(), NewGraph(), srv.URL+"/actor")
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, http.StatusGone, le.StatusCode)
}

func TestResolverRejectsNonPublicURLInProduction(t *testing.T) {
	r := NewResolver(Options{Production: true})
	err := r.Load(context.Background(), NewGraph(), "http://localhost:1234/actor")
	var le *LoadError
	require.True(t, errors.As(err, &le))
	assert.Zero(t, le.StatusCode)
}

func TestResolverCacheHitSkipsHTTP(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		fmt.Fprint(w, `{"id":"https://canonical.example.org/actor","type":"Person"}`)
	}))
	defer srv.Close()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCache(client, time.Minute)

	url := srv.URL + "/actor"
	r := NewResolver(Options{Cache: cache})
	require.NoError(t, r.Load(context.Background(), NewGraph(), url))
	require.NoError(t, r.Load(context.Background(), NewGraph(), url))

	assert.Equal(t, int32(1), fetches.Load())
}
