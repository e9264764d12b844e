package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/zette-dev/heyjamie/internal/config"
	"github.com/zette-dev/heyjamie/internal/executor"
	"github.com/zette-dev/heyjamie/internal/executor/mock"
	"github.com/zette-dev/heyjamie/internal/session"
	"github.com/zette-dev/heyjamie/internal/supervisor"
)

func testBot(runner executor.Runner) *Bot {
	return newBot(config.TelegramConfig{AllowedUserIDs: []int64{7}},
		executor.Settings{Model: "gpt-4.1-mini"}, "browseros-act", runner)
}

func TestAnswer_RoutesPromptToChatSession(t *testing.T) {
	runner := mock.New()
	b := testBot(runner)

	require.Equal(t, "mock response to: open my calendar", b.answer(context.Background(), 1001, "open my calendar"))

	reqs := runner.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "telegram:1001", reqs[0].Session)
	require.Equal(t, "browseros-act", reqs[0].Mode)
	require.Equal(t, "gpt-4.1-mini", reqs[0].Settings.Model)
}

func TestAnswer_MapsErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&supervisor.Error{Kind: supervisor.ErrCancelled}, "Cancelled."},
		{&supervisor.Error{Kind: supervisor.ErrTimedOut, Budget: 30 * time.Second}, "Timed out after 30s."},
		{&supervisor.Error{Kind: supervisor.ErrEmptyOutput}, "The assistant returned no answer."},
		{&supervisor.Error{Kind: supervisor.ErrSpawnFailed}, "The assistant helper could not be started."},
		{errors.New("boom"), "Something went wrong. Please try again."},
	}
	for _, tt := range tests {
		runner := mock.New()
		runner.Handler = func(context.Context, executor.Request) (string, error) { return "", tt.err }
		require.Equal(t, tt.want, testBot(runner).answer(context.Background(), 1, "hi"))
	}
}

func TestCancelAndStatusText(t *testing.T) {
	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	runner := mock.New()
	runner.Sessions = map[string]session.StatusInfo{
		"telegram:1": {Exists: true, Active: true, Mode: "excalidraw-act", Since: since, Requests: 3},
		"telegram:2": {Exists: true, Requests: 2},
	}
	b := testBot(runner)

	require.Equal(t, "Cancelling.", b.cancelText(1))
	require.Equal(t, "Nothing to cancel.", b.cancelText(2))
	require.Equal(t, []string{"telegram:1", "telegram:2"}, runner.Cancelled())

	require.Equal(t, "Running excalidraw-act for 12s.", b.statusText(1, since.Add(12*time.Second)))
	require.Equal(t, "Idle. 2 request(s) so far.", b.statusText(2, since))
	require.Equal(t, "Idle.", b.statusText(3, since))
}

func TestSplitMessage(t *testing.T) {
	require.Nil(t, splitMessage("  ", 10))
	require.Equal(t, []string{"short"}, splitMessage("short", 10))

	// Breaks at the last newline inside the window.
	require.Equal(t, []string{"first line", "second"}, splitMessage("first line\nsecond", 14))

	long := strings.Repeat("é", 9000)
	parts := splitMessage(long, maxMessageLen)
	require.Len(t, parts, 3)
	total := 0
	for _, p := range parts {
		n := utf8.RuneCountInString(p)
		require.LessOrEqual(t, n, maxMessageLen)
		total += n
	}
	require.Equal(t, 9000, total)
}

func TestTruncateRunes(t *testing.T) {
	require.Equal(t, "hé", truncateRunes("héllo", 2))
	require.Equal(t, "abc", truncateRunes("abc", 5))
}
