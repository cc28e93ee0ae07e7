package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCreateRateLimiter(t *testing.T) {
	assert := assert.New(t)
	rl := NewCreateRateLimiter(2, time.Hour)

	assert.True(rl.Allow("user-a"))
	assert.True(rl.Allow("user-a"))
	assert.False(rl.Allow("user-a"), "third create inside the window blocked")
	assert.True(rl.Allow("user-b"), "limits are per user")
}

func TestCreateRateLimiterWindowExpires(t *testing.T) {
	rl := NewCreateRateLimiter(1, 10*time.Millisecond)

	assert.True(t, rl.Allow("user-a"))
	assert.False(t, rl.Allow("user-a"))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, rl.Allow("user-a"), "old attempts age out of the window")
}
