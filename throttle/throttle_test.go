package throttle_test

import (
	"testing"
	"time"

	"arcade-server/throttle"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_BurstThenDrop(t *testing.T) {
	l := throttle.New(10, 3)
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 3; i++ {
		assert.Equal(t, throttle.Allow, l.Offer(now), "burst message %d", i)
	}
	assert.Equal(t, throttle.Advise, l.Offer(now), "first rejection advises")
	assert.Equal(t, throttle.Drop, l.Offer(now), "later rejections within the window are silent")
	assert.Equal(t, 2, l.Dropped())
}

func TestLimiter_Refill(t *testing.T) {
	l := throttle.New(10, 1)
	now := time.Unix(1_700_000_000, 0)

	assert.Equal(t, throttle.Allow, l.Offer(now))
	assert.NotEqual(t, throttle.Allow, l.Offer(now))
	assert.Equal(t, throttle.Allow, l.Offer(now.Add(150*time.Millisecond)), "one token refills after 100ms")
}

func TestLimiter_AdviceCadence(t *testing.T) {
	l := throttle.New(1, 1)
	now := time.Unix(1_700_000_000, 0)

	assert.Equal(t, throttle.Allow, l.Offer(now))
	assert.Equal(t, throttle.Advise, l.Offer(now.Add(10*time.Millisecond)))
	assert.Equal(t, throttle.Drop, l.Offer(now.Add(20*time.Millisecond)))
	// A second later a token is back, so exhaust it before checking advice again
	assert.Equal(t, throttle.Allow, l.Offer(now.Add(1100*time.Millisecond)))
	assert.Equal(t, throttle.Advise, l.Offer(now.Add(1110*time.Millisecond)))
}
