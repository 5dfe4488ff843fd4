package guard

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func loopedGuard() *Guard {
	return FromConfig(Config{
		SafeTokenThreshold: 0,
		MaxRepeats:         5,
		WindowSize:         5,
		TokenCheckInterval: 5,
	})
}

func TestDisabledGuardNeverTrips(t *testing.T) {
	g := New()
	for i := 0; i < 1000; i++ {
		g.AccumulateTokens("spam")
		assert.False(t, g.IsInfiniteGeneration())
	}
}

func TestRepeatedTokenTrips(t *testing.T) {
	g := loopedGuard()

	// 5 repeats of a 5-token window need 25 buffered tokens; the check only
	// fires on interval boundaries, so the 25th token trips it.
	for i := 1; i <= 24; i++ {
		g.AccumulateTokens("loop")
		assert.False(t, g.IsInfiniteGeneration(), "token %d", i)
	}
	g.AccumulateTokens("loop")
	assert.True(t, g.IsInfiniteGeneration())
}

func TestVariedTokensDoNotTrip(t *testing.T) {
	g := loopedGuard()
	for i := 0; i < 200; i++ {
		g.AccumulateTokens(fmt.Sprintf("tok-%d", i))
		assert.False(t, g.IsInfiniteGeneration())
	}
}

func TestSafeThresholdDelaysBuffering(t *testing.T) {
	g := FromConfig(Config{
		SafeTokenThreshold: 50,
		MaxRepeats:         5,
		WindowSize:         5,
		TokenCheckInterval: 5,
	})

	// The first 50 tokens are never buffered, so the trip point moves out
	// by exactly the threshold.
	for i := 1; i <= 74; i++ {
		g.AccumulateTokens("loop")
		assert.False(t, g.IsInfiniteGeneration(), "token %d", i)
	}
	g.AccumulateTokens("loop")
	assert.True(t, g.IsInfiniteGeneration())
}

func TestPhaseSwitchResetsBuffer(t *testing.T) {
	g := loopedGuard()

	for i := 0; i < 20; i++ {
		g.ThinkContentSwitch("think", "")
		g.AccumulateTokens("loop")
	}
	// Transition to content clears accumulated thinking tokens.
	g.ThinkContentSwitch("", "answer")
	for i := 1; i <= 24; i++ {
		g.AccumulateTokens("loop")
		assert.False(t, g.IsInfiniteGeneration(), "token %d", i)
	}
}

func TestMessageInfiniteLoopNamesPhase(t *testing.T) {
	g := loopedGuard()
	assert.Contains(t, g.MessageInfiniteLoop(), "phase : content")

	g.ThinkContentSwitch("think", "")
	assert.Contains(t, g.MessageInfiniteLoop(), "phase : thinking")
}
