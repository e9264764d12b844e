package supervisor

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	require.Equal(t, ModeInteractive, ParseMode("browseros-act"))
	require.Equal(t, ModeCanvasAct, ParseMode(" excalidraw-act "))
	require.Equal(t, ModeGeneric, ParseMode(""))
	require.Equal(t, ModeGeneric, ParseMode("summarize"))
}

func TestDefaultTimeouts(t *testing.T) {
	tests := []struct {
		mode Mode
		want time.Duration
		env  string
	}{
		{ModeInteractive, 180 * time.Second, "HEYJAMIE_BROWSEROS_TIMEOUT_MS"},
		{ModeNavigate, 30 * time.Second, "HEYJAMIE_BROWSEROS_TIMEOUT_MS"},
		{ModeCanvasAct, 120 * time.Second, "HEYJAMIE_EXCALIDRAW_TIMEOUT_MS"},
		{ModeIntent, 90 * time.Second, "HEYJAMIE_INTENT_TIMEOUT_MS"},
		{ModeTopicShift, 15 * time.Second, "HEYJAMIE_TOPIC_SHIFT_TIMEOUT_MS"},
		{ModeGeneric, 45 * time.Second, "HEYJAMIE_LLM_TIMEOUT_MS"},
		{ModeSetup, 600 * time.Second, "HEYJAMIE_WHISPER_SETUP_TIMEOUT_MS"},
		{Mode("unknown"), 45 * time.Second, "HEYJAMIE_LLM_TIMEOUT_MS"},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			require.Equal(t, tt.want, tt.mode.DefaultTimeout())
			require.Equal(t, tt.env, tt.mode.TimeoutEnv())
		})
	}
}

func TestResolveTimeout(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"unset", "", 90 * time.Second},
		{"valid", "2500", 2500 * time.Millisecond},
		{"padded", "  1000\n", time.Second},
		{"below minimum", "999", 90 * time.Second},
		{"negative", "-5000", 90 * time.Second},
		{"not a number", "ten seconds", 90 * time.Second},
		{"fractional", "1500.5", 90 * time.Second},
		{"plus sign", "+2000", 90 * time.Second},
		{"huge", "288230376151712744", time.Duration(math.MaxInt64 / int64(time.Millisecond) * int64(time.Millisecond))},
		{"max int64", "9223372036854775807", time.Duration(math.MaxInt64 / int64(time.Millisecond) * int64(time.Millisecond))},
		{"beyond uint64", "99999999999999999999999", time.Duration(math.MaxInt64 / int64(time.Millisecond) * int64(time.Millisecond))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv := func(k string) string {
				if k == "HEYJAMIE_INTENT_TIMEOUT_MS" {
					return tt.value
				}
				return "60000"
			}
			require.Equal(t, tt.want, ResolveTimeout(ModeIntent, getenv))
		})
	}

	require.Equal(t, 45*time.Second, ResolveTimeout(ModeGeneric, nil))
}
