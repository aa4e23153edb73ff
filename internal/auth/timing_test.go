package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/velobill/authgate/internal/auth"
)

func TestTimingDelay_WaitFrom_PadsToTarget(t *testing.T) {
	config := auth.TimingConfig{
		BaseDelayMs:   100,
		RandomDelayMs: 50,
	}

	timing := auth.NewTimingDelay(config)
	startTime := time.Now()

	timing.WaitFrom(startTime)

	elapsed := time.Since(startTime)
	// At least the base, but bounded by base + max random plus scheduling slack
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 250*time.Millisecond)
}

func TestTimingDelay_WaitFrom_CountsWorkAlreadyDone(t *testing.T) {
	config := auth.TimingConfig{
		BaseDelayMs:   50,
		RandomDelayMs: 0,
	}

	timing := auth.NewTimingDelay(config)

	// Pretend expensive work already consumed the whole budget
	startTime := time.Now().Add(-100 * time.Millisecond)

	before := time.Now()
	timing.WaitFrom(startTime)
	assert.Less(t, time.Since(before), 10*time.Millisecond)
}

func TestTimingDelay_WaitFrom_ZeroConfig(t *testing.T) {
	timing := auth.NewTimingDelay(auth.TimingConfig{})

	before := time.Now()
	timing.WaitFrom(before)
	assert.Less(t, time.Since(before), 10*time.Millisecond)
}
