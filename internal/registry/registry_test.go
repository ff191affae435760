package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	names []string
	err   error
	calls int
}

func (f *fakeLister) ListModels(context.Context) ([]string, error) {
	f.calls++
	return f.names, f.err
}

func TestKnown(t *testing.T) {
	lister := &fakeLister{names: []string{"qwen2.5:1.5b", "llama3:8b"}}
	r := New(lister)

	known, err := r.Known(context.Background(), "llama3:8b")
	require.NoError(t, err)
	assert.True(t, known)

	known, err = r.Known(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, known)

	assert.Equal(t, 1, lister.calls, "second lookup hits the cache")
}

func TestKnown_FetchErrorWithoutCache(t *testing.T) {
	r := New(&fakeLister{err: errors.New("down")})
	_, err := r.Known(context.Background(), "any")
	assert.Error(t, err)
}

func TestKnown_StaleCacheServesDuringOutage(t *testing.T) {
	lister := &fakeLister{names: []string{"m1"}}
	r := New(lister)

	_, err := r.Known(context.Background(), "m1")
	require.NoError(t, err)

	// Force a refresh attempt that fails; the cached list still answers.
	r.fetchedAt = r.fetchedAt.Add(-2 * refreshInterval)
	lister.err = errors.New("down")

	known, err := r.Known(context.Background(), "m1")
	require.NoError(t, err)
	assert.True(t, known)
}
