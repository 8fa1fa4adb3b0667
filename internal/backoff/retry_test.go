package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstantPolicy(t *testing.T) {
	p := &ConstantPolicy{Interval: time.Millisecond, MaxRetries: 2}

	interval, err := p.NextInterval(0)
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, interval)

	_, err = p.NextInterval(2)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestExponentialPolicy(t *testing.T) {
	p := NewExponentialPolicy(10*time.Millisecond, 40*time.Millisecond)

	for i, want := range []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond, // capped
	} {
		interval, err := p.NextInterval(i)
		require.NoError(t, err)
		assert.Equal(t, want, interval)
	}
}

func TestRetrierNext(t *testing.T) {
	r := NewRetrier(&ConstantPolicy{Interval: time.Millisecond, MaxRetries: 2})
	ctx := context.Background()

	require.NoError(t, r.Next(ctx))
	require.NoError(t, r.Next(ctx))
	assert.ErrorIs(t, r.Next(ctx), ErrRetriesExhausted)

	r.Reset()
	require.NoError(t, r.Next(ctx))
}

func TestRetrierCanceled(t *testing.T) {
	r := NewRetrier(NewConstantPolicy(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	assert.ErrorIs(t, r.Next(ctx), ErrCanceled)
}
