package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockResyncOnFirstUse(t *testing.T) {
	fetches := 0
	local := time.UnixMilli(1_700_000_000_000)
	c := &Clock{
		fetch: func(ctx context.Context) (int64, error) {
			fetches++
			return local.UnixMilli() + 250, nil // venue runs 250ms ahead
		},
		now: func() time.Time { return local },
	}

	ts, err := c.NowMilli(context.Background())
	require.NoError(t, err)
	assert.Equal(t, local.UnixMilli()+250, ts)
	assert.Equal(t, 1, fetches)
	assert.Equal(t, int64(250), c.OffsetMilli())
}

func TestClockCachesOffsetWithinWindow(t *testing.T) {
	fetches := 0
	local := time.UnixMilli(1_700_000_000_000)
	c := &Clock{
		fetch: func(ctx context.Context) (int64, error) {
			fetches++
			return local.UnixMilli() - 100, nil
		},
		now: func() time.Time { return local },
	}

	_, err := c.NowMilli(context.Background())
	require.NoError(t, err)

	// 10s later: still fresh, no refetch.
	local = local.Add(10 * time.Second)
	ts, err := c.NowMilli(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fetches)
	assert.Equal(t, local.UnixMilli()-100, ts)

	// Past the staleness window: transparent resync.
	local = local.Add(31 * time.Second)
	_, err = c.NowMilli(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetches)
}

func TestClockResyncFailurePropagates(t *testing.T) {
	c := &Clock{
		fetch: func(ctx context.Context) (int64, error) {
			return 0, context.DeadlineExceeded
		},
		now: time.Now,
	}
	_, err := c.NowMilli(context.Background())
	assert.Error(t, err)
}

func TestWarningsRateLimit(t *testing.T) {
	w := NewWarnings(time.Hour)
	assert.True(t, w.Allow())
	assert.False(t, w.Allow())

	w = NewWarnings(time.Nanosecond)
	assert.True(t, w.Allow())
	time.Sleep(time.Millisecond)
	assert.True(t, w.Allow())
}
