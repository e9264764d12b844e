package supervisor

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// Mode is the operation category of one request. It selects the default
// timeout and the environment variable that may override it.
type Mode string

const (
	ModeInteractive Mode = "browseros-act"
	ModeNavigate    Mode = "browseros-navigate"
	ModeCanvasAct   Mode = "excalidraw-act"
	ModeIntent      Mode = "browseros-intent"
	ModeTopicShift  Mode = "topic-shift-detect"
	ModeGeneric     Mode = "generic"
	ModeMCPTest     Mode = "mcp-test"
	ModeTranscribe  Mode = "transcribe"
	ModeSetup       Mode = "setup-whisper"
)

// MinTimeoutOverride is the smallest override honored from the environment.
const MinTimeoutOverride = time.Second

// maxOverrideMillis is the largest override representable as a Duration.
const maxOverrideMillis = uint64(math.MaxInt64 / int64(time.Millisecond))

type modeSpec struct {
	timeout time.Duration
	env     string
}

var modes = map[Mode]modeSpec{
	ModeInteractive: {180 * time.Second, "HEYJAMIE_BROWSEROS_TIMEOUT_MS"},
	ModeNavigate:    {30 * time.Second, "HEYJAMIE_BROWSEROS_TIMEOUT_MS"},
	ModeCanvasAct:   {120 * time.Second, "HEYJAMIE_EXCALIDRAW_TIMEOUT_MS"},
	ModeIntent:      {90 * time.Second, "HEYJAMIE_INTENT_TIMEOUT_MS"},
	ModeTopicShift:  {15 * time.Second, "HEYJAMIE_TOPIC_SHIFT_TIMEOUT_MS"},
	ModeGeneric:     {45 * time.Second, "HEYJAMIE_LLM_TIMEOUT_MS"},
	ModeMCPTest:     {60 * time.Second, "HEYJAMIE_MCP_TEST_TIMEOUT_MS"},
	ModeTranscribe:  {120 * time.Second, "HEYJAMIE_WHISPER_TIMEOUT_MS"},
	ModeSetup:       {600 * time.Second, "HEYJAMIE_WHISPER_SETUP_TIMEOUT_MS"},
}

// ParseMode maps a wire name to a Mode. Unknown and empty names are generic.
func ParseMode(s string) Mode {
	m := Mode(strings.TrimSpace(s))
	if _, ok := modes[m]; ok {
		return m
	}
	return ModeGeneric
}

func (m Mode) spec() modeSpec {
	if s, ok := modes[m]; ok {
		return s
	}
	return modes[ModeGeneric]
}

// DefaultTimeout is the budget used when no override applies.
func (m Mode) DefaultTimeout() time.Duration {
	return m.spec().timeout
}

// TimeoutEnv names the variable that overrides the budget, in milliseconds.
func (m Mode) TimeoutEnv() string {
	return m.spec().env
}

// ResolveTimeout returns the budget for m: the override from getenv when it is
// an integer of at least 1000 milliseconds, otherwise the default.
func ResolveTimeout(m Mode, getenv func(string) string) time.Duration {
	if getenv != nil {
		raw := strings.TrimSpace(getenv(m.TimeoutEnv()))
		if ms, err := strconv.ParseUint(raw, 10, 64); err == nil || errors.Is(err, strconv.ErrRange) {
			// Out-of-range values parse as the maximum and saturate below.
			if ms > maxOverrideMillis {
				ms = maxOverrideMillis
			}
			if d := time.Duration(ms) * time.Millisecond; d >= MinTimeoutOverride {
				return d
			}
		}
	}
	return m.DefaultTimeout()
}
