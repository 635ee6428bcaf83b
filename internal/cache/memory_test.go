package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemoryCache_RoundTrip(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	err := c.Set(ctx, "k1", payload{Name: "caps", Count: 3}, time.Minute)
	require.NoError(t, err)

	var got payload
	err = c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	assert.Equal(t, payload{Name: "caps", Count: 3}, got)
}

func TestMemoryCache_Miss(t *testing.T) {
	c := NewMemoryCache()

	var got payload
	err := c.Get(context.Background(), "absent", &got)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", payload{Name: "x"}, 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	var got payload
	err := c.Get(ctx, "k1", &got)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k1", payload{Name: "x"}, time.Minute))
	require.NoError(t, c.Delete(ctx, "k1"))

	var got payload
	assert.ErrorIs(t, c.Get(ctx, "k1", &got), ErrCacheMiss)
}
