package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Window(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRateLimiter(3)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("a"), "message %d", i)
	}
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "limits are per client")

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("a"), "new window resets the count")
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(0)
	for i := 0; i < 1000; i++ {
		assert.True(t, rl.Allow("a"))
	}
	assert.Equal(t, 0, rl.Len())
}

func TestRateLimiter_ForgetAndCleanup(t *testing.T) {
	now := time.Unix(0, 0)
	rl := NewRateLimiter(1)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	rl.Allow("b")
	assert.False(t, rl.Allow("a"))

	rl.Forget("a")
	assert.True(t, rl.Allow("a"))

	now = now.Add(6 * time.Minute)
	rl.Cleanup()
	assert.Equal(t, 0, rl.Len())
}
