package places

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicbot/internal/sanitize"
	"civicbot/internal/store"
)

func newPlacesServer(t *testing.T, body string) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var lastInput atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastInput.Store(r.URL.Query().Get("input"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &lastInput
}

func TestGoogleResolver_Found(t *testing.T) {
	srv, lastInput := newPlacesServer(t, `{"candidates":[{"place_id":"ChIJmuseo"},{"place_id":"ChIJother"}],"status":"OK"}`)
	r, err := NewGoogleResolver(GoogleOptions{APIKey: "k", Language: "es", BaseURL: srv.URL})
	require.NoError(t, err)

	id, err := r.ResolvePlace(context.Background(), "Museo", "Museo de Bellas Artes, Sevilla")
	require.NoError(t, err)
	assert.Equal(t, "ChIJmuseo", id)
	assert.Equal(t, "Museo de Bellas Artes, Sevilla", lastInput.Load())
}

func TestGoogleResolver_ZeroResults(t *testing.T) {
	srv, lastInput := newPlacesServer(t, `{"candidates":[],"status":"ZERO_RESULTS"}`)
	r, err := NewGoogleResolver(GoogleOptions{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	id, err := r.ResolvePlace(context.Background(), "Inventado", "")
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, "Inventado", lastInput.Load(), "name is used when there is no hint")
}

func TestGoogleResolver_APIError(t *testing.T) {
	srv, _ := newPlacesServer(t, `{"candidates":[],"status":"REQUEST_DENIED","error_message":"bad key"}`)
	r, err := NewGoogleResolver(GoogleOptions{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = r.ResolvePlace(context.Background(), "Museo", "Museo")
	assert.Error(t, err)
}

func TestGoogleResolver_EmptyQuery(t *testing.T) {
	r, err := NewGoogleResolver(GoogleOptions{APIKey: "k"})
	require.NoError(t, err)
	id, err := r.ResolvePlace(context.Background(), " ", "")
	assert.NoError(t, err)
	assert.Empty(t, id)
}

func TestNewGoogleResolver_RequiresKey(t *testing.T) {
	_, err := NewGoogleResolver(GoogleOptions{})
	assert.Error(t, err)
}

func TestCachingResolver(t *testing.T) {
	cache, err := store.NewLocalStore(":memory:")
	require.NoError(t, err)
	defer cache.Close()

	var calls atomic.Int32
	next := sanitize.PlaceResolverFunc(func(_ context.Context, name, _ string) (string, error) {
		calls.Add(1)
		switch name {
		case "Museo":
			return "ChIJmuseo", nil
		case "Roto":
			return "", errors.New("quota")
		}
		return "", nil
	})
	r := NewCachingResolver(next, cache)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := r.ResolvePlace(ctx, "Museo", "Museo, Sevilla")
		require.NoError(t, err)
		assert.Equal(t, "ChIJmuseo", id)
	}
	assert.Equal(t, int32(1), calls.Load(), "positive answers are cached")

	for i := 0; i < 2; i++ {
		id, err := r.ResolvePlace(ctx, "Inventado", "Inventado, Sevilla")
		require.NoError(t, err)
		assert.Empty(t, id)
	}
	assert.Equal(t, int32(3), calls.Load(), "misses are not cached")

	_, err = r.ResolvePlace(ctx, "Roto", "")
	assert.Error(t, err)
	_, err = cache.GetPlaceID(ctx, "Roto")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewCachingResolver_NilCache(t *testing.T) {
	next := sanitize.PlaceResolverFunc(func(context.Context, string, string) (string, error) { return "x", nil })
	r := NewCachingResolver(next, nil)
	_, isCaching := r.(*CachingResolver)
	assert.False(t, isCaching)
}
