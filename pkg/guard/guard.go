// Package guard watches a streaming token sequence for pathological
// repetition so runaway generations can be cut off.
package guard

import "fmt"

// Config tunes the repetition detector. Any non-positive field disables the
// corresponding behavior.
type Config struct {
	SafeTokenThreshold int `mapstructure:"safe_token_threshold" json:"safe_token_threshold"`
	MaxRepeats         int `mapstructure:"max_repeats" json:"max_repeats"`
	WindowSize         int `mapstructure:"window_size" json:"window_size"`
	TokenCheckInterval int `mapstructure:"token_check_interval" json:"token_check_interval"`
}

// Guard accumulates streamed tokens and periodically scans the recent window
// for a contiguous subsequence repeating too many times. A Guard is used by a
// single streaming loop; it is not safe for concurrent use.
type Guard struct {
	cfg Config

	tokenCount  int
	tokenBuffer []string
	thinking    bool
}

// New returns a disabled Guard. Use FromConfig for a configured one.
func New() *Guard {
	return FromConfig(Config{
		SafeTokenThreshold: -1,
		MaxRepeats:         -1,
		WindowSize:         -1,
		TokenCheckInterval: -1,
	})
}

func FromConfig(cfg Config) *Guard {
	return &Guard{cfg: cfg}
}

// ThinkContentSwitch clears the token ring when the stream transitions
// between thinking output and normal content. A phase transition is evidence
// of progress, not of a loop.
func (g *Guard) ThinkContentSwitch(thinkToken, contentToken string) {
	switch {
	case thinkToken != "" && contentToken == "" && !g.thinking:
		g.tokenBuffer = g.tokenBuffer[:0]
		g.thinking = true
	case thinkToken == "" && contentToken != "" && g.thinking:
		g.tokenBuffer = g.tokenBuffer[:0]
		g.thinking = false
	}
}

// AccumulateTokens counts a streamed token and, past the safe threshold,
// records it for repetition checks.
func (g *Guard) AccumulateTokens(token string) {
	g.tokenCount++
	if g.cfg.SafeTokenThreshold >= 0 && g.tokenCount > g.cfg.SafeTokenThreshold {
		g.tokenBuffer = append(g.tokenBuffer, token)
	}
}

func (g *Guard) isCheckInterval() bool {
	return g.cfg.TokenCheckInterval > 0 && g.tokenCount%g.cfg.TokenCheckInterval == 0
}

// IsInfiniteGeneration scans the recorded tokens for any length-WindowSize
// contiguous subsequence occurring at least MaxRepeats times. The scan only
// runs on check-interval boundaries once enough tokens are buffered.
func (g *Guard) IsInfiniteGeneration() bool {
	if g.cfg.MaxRepeats < 0 || g.cfg.WindowSize < 0 {
		return false
	}
	if len(g.tokenBuffer) < g.cfg.WindowSize*g.cfg.MaxRepeats || !g.isCheckInterval() {
		return false
	}

	counts := make(map[string]int)
	for i := 0; i+g.cfg.WindowSize <= len(g.tokenBuffer); i++ {
		key := windowKey(g.tokenBuffer[i : i+g.cfg.WindowSize])
		counts[key]++
		if counts[key] >= g.cfg.MaxRepeats {
			return true
		}
	}
	return false
}

// windowKey joins tokens with an unlikely separator so distinct windows
// cannot collide on concatenation.
func windowKey(tokens []string) string {
	key := ""
	for _, t := range tokens {
		key += t + "\x1f"
	}
	return key
}

// MessageInfiniteLoop is the canned notice appended to the assistant text
// when generation is terminated by the guard.
func (g *Guard) MessageInfiniteLoop() string {
	phase := "content"
	if g.thinking {
		phase = "thinking"
	}
	return "\n\n" +
		"---\n\n" +
		"SYSTEM: \n\n" +
		"LLM model has entered an infinite loop and response generation has been stopped.\n\n" +
		fmt.Sprintf("Model stuck in phase : %s.\n\n", phase) +
		"Please try another prompt or model in a different chatroom.\n\n" +
		"---\n\n"
}
