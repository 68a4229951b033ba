package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(context.Background(), mr.Addr())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", got)
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	_, err := New(context.Background(), "127.0.0.1:1")
	require.Error(t, err)
}

func TestOptions(t *testing.T) {
	opts := Options("redis:6379")
	require.Equal(t, "redis:6379", opts.Addr)
	require.Equal(t, time.Second, opts.ReadTimeout)
	require.Equal(t, time.Second, opts.WriteTimeout)
	require.Equal(t, 2*time.Second, opts.DialTimeout)
}
