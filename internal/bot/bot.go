package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/zette-dev/heyjamie/internal/config"
	"github.com/zette-dev/heyjamie/internal/executor"
	"github.com/zette-dev/heyjamie/internal/supervisor"
)

const maxMessageLen = 4096

// Bot is a remote control for the assistant: text messages become agent
// prompts, and /cancel, /status and /mcp map to the matching operations.
type Bot struct {
	bot      *bot.Bot
	runner   executor.Runner
	settings executor.Settings
	mode     string
	allowed  map[int64]bool

	// inflight tracks prompt goroutines so Start can wait for them.
	inflight sync.WaitGroup
}

// New creates a Telegram bot wired to the given runner. mode is the agent
// mode used for prompts.
func New(cfg config.TelegramConfig, settings executor.Settings, mode string, runner executor.Runner) (*Bot, error) {
	b := newBot(cfg, settings, mode, runner)

	opts := []bot.Option{
		bot.WithMiddlewares(b.authMiddleware),
		bot.WithDefaultHandler(b.handleMessage),
		bot.WithMessageTextHandler("/cancel", bot.MatchTypeExact, b.handleCancel),
		bot.WithMessageTextHandler("/status", bot.MatchTypeExact, b.handleStatus),
		bot.WithMessageTextHandler("/mcp", bot.MatchTypeExact, b.handleMCP),
	}

	tgBot, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	b.bot = tgBot
	return b, nil
}

func newBot(cfg config.TelegramConfig, settings executor.Settings, mode string, runner executor.Runner) *Bot {
	allowed := make(map[int64]bool, len(cfg.AllowedUserIDs))
	for _, id := range cfg.AllowedUserIDs {
		allowed[id] = true
	}
	return &Bot{
		runner:   runner,
		settings: settings,
		mode:     mode,
		allowed:  allowed,
	}
}

// Start begins long polling. Blocks until ctx is cancelled and every
// in-flight prompt has finished.
func (b *Bot) Start(ctx context.Context) {
	slog.Info("telegram bot starting long poll")
	b.bot.Start(ctx)
	b.inflight.Wait()
}

// authMiddleware silently drops messages from unauthorized users.
func (b *Bot) authMiddleware(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, tg *bot.Bot, update *models.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}
		if !b.allowed[update.Message.From.ID] {
			slog.Warn("unauthorized message", "user_id", update.Message.From.ID)
			return
		}
		next(ctx, tg, update)
	}
}

// handleMessage runs a text message as an agent prompt. The request runs on
// its own goroutine so /cancel is handled while it is in flight.
func (b *Bot) handleMessage(ctx context.Context, tg *bot.Bot, update *models.Update) {
	if update.Message == nil || strings.TrimSpace(update.Message.Text) == "" {
		return
	}

	chatID := update.Message.Chat.ID
	text := update.Message.Text

	// Send typing indicator
	tg.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	})

	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		b.reply(ctx, tg, chatID, b.answer(ctx, chatID, text))
	}()
}

func (b *Bot) handleCancel(ctx context.Context, tg *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID
	b.reply(ctx, tg, chatID, b.cancelText(chatID))
}

func (b *Bot) handleStatus(ctx context.Context, tg *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID
	b.reply(ctx, tg, chatID, b.statusText(chatID, time.Now()))
}

func (b *Bot) handleMCP(ctx context.Context, tg *bot.Bot, update *models.Update) {
	chatID := update.Message.Chat.ID
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		report, err := b.runner.MCPTest(ctx)
		if err != nil {
			slog.Error("mcp test failed", "chat_id", chatID, "error", err)
			report = errorText(err)
		}
		b.reply(ctx, tg, chatID, report)
	}()
}

// answer runs text as a prompt for the chat's session and returns the reply.
func (b *Bot) answer(ctx context.Context, chatID int64, text string) string {
	out, err := b.runner.Run(ctx, executor.Request{
		Session:  sessionID(chatID),
		Mode:     b.mode,
		Settings: b.settings,
		Prompt:   text,
	})
	if err != nil {
		slog.Error("agent request failed", "chat_id", chatID, "error", err)
		return errorText(err)
	}
	return out
}

func (b *Bot) cancelText(chatID int64) string {
	if b.runner.Cancel(sessionID(chatID)) {
		return "Cancelling."
	}
	return "Nothing to cancel."
}

func (b *Bot) statusText(chatID int64, now time.Time) string {
	st := b.runner.Status(sessionID(chatID))
	switch {
	case st.Active:
		return fmt.Sprintf("Running %s for %s.", st.Mode, now.Sub(st.Since).Round(time.Second))
	case st.Exists:
		return fmt.Sprintf("Idle. %d request(s) so far.", st.Requests)
	default:
		return "Idle."
	}
}

// reply sends text, split into as many messages as Telegram's length limit requires.
func (b *Bot) reply(ctx context.Context, tg *bot.Bot, chatID int64, text string) {
	for _, part := range splitMessage(text, maxMessageLen) {
		if _, err := tg.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: part}); err != nil {
			slog.Error("send message failed", "chat_id", chatID, "error", err)
			return
		}
	}
}

func sessionID(chatID int64) string {
	return fmt.Sprintf("telegram:%d", chatID)
}

// errorText maps a failed request to a short user-facing message.
func errorText(err error) string {
	var serr *supervisor.Error
	switch {
	case errors.Is(err, supervisor.ErrCancelled):
		return "Cancelled."
	case errors.As(err, &serr) && errors.Is(err, supervisor.ErrTimedOut):
		return fmt.Sprintf("Timed out after %s.", serr.Budget)
	case errors.Is(err, supervisor.ErrEmptyOutput):
		return "The assistant returned no answer."
	case errors.Is(err, supervisor.ErrSpawnFailed):
		return "The assistant helper could not be started."
	default:
		return "Something went wrong. Please try again."
	}
}

// splitMessage cuts s into chunks of at most n runes, preferring to break
// after a newline.
func splitMessage(s string, n int) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var parts []string
	for s != "" {
		head := truncateRunes(s, n)
		if len(head) < len(s) {
			if i := strings.LastIndexByte(head, '\n'); i > 0 {
				head = head[:i+1]
			}
		}
		if part := strings.TrimSpace(head); part != "" {
			parts = append(parts, part)
		}
		s = s[len(head):]
	}
	return parts
}

// truncateRunes returns the first n runes of s.
func truncateRunes(s string, n int) string {
	i := 0
	for j := range s {
		if i >= n {
			return s[:j]
		}
		i++
	}
	return s
}
