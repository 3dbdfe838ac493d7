package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"digitaltwin/internal/domain"
	"digitaltwin/internal/twin"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram answers each text message as an interview question.
// "/technical <question>" and friends set the interview type for one message.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	twin      Twin

	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	Twin      Twin
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		twin:      cfg.Twin,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}
	msg := update.Message
	chatID := msg.Chat.ID

	if !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", msg.From.ID,
			"username", msg.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	command, args := "", text
	if msg.IsCommand() {
		command, args = msg.Command(), strings.TrimSpace(msg.CommandArguments())
	}

	t.logger.Info("telegram message received",
		"user_id", msg.From.ID,
		"chat_id", chatID,
		"command", command,
		"text_len", len(text),
	)

	if command == "" || t.isInterviewType(command) {
		_, _ = t.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	}
	t.sendMessage(chatID, t.reply(ctx, command, args))
}

// reply computes the response for one message. command is empty for plain text.
func (t *Telegram) reply(ctx context.Context, command, text string) string {
	interviewType := ""
	switch {
	case command == "":
	case command == "start" || command == "help":
		return t.usage()
	case t.isInterviewType(command):
		if text == "" {
			return fmt.Sprintf("Usage: /%s <question>", command)
		}
		interviewType = command
	default:
		return "Unknown command. Type /help for available commands."
	}

	resp, err := t.twin.Ask(ctx, domain.PipelineRequest{Question: text, Enhanced: true, InterviewType: interviewType})
	if err != nil {
		if !errors.Is(err, domain.ErrRetrieval) {
			t.logger.Error("telegram ask failed", "err", err)
		}
		return twin.UnavailableAnswer
	}
	return formatAnswer(resp)
}

func (t *Telegram) usage() string {
	var sb strings.Builder
	sb.WriteString("Hi! I'm a digital twin. Ask me anything about my professional background, skills, projects or experience.\n\n")
	sb.WriteString("Send a question as plain text, or prefix it with an interview style:\n")
	for _, it := range t.twin.InterviewTypes() {
		fmt.Fprintf(&sb, "/%s <question>\n", it)
	}
	sb.WriteString("\n/help shows this message.")
	return sb.String()
}

func (t *Telegram) isInterviewType(command string) bool {
	for _, it := range t.twin.InterviewTypes() {
		if it == command {
			return true
		}
	}
	return false
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// formatAnswer renders an answer followed by its source titles.
func formatAnswer(resp *domain.PipelineResponse) string {
	if len(resp.Sources) == 0 {
		return resp.Answer
	}
	var sb strings.Builder
	sb.WriteString(resp.Answer)
	sb.WriteString("\n\nSources:")
	for _, s := range resp.Sources {
		title := s.Title
		if title == "" {
			title = "Information"
		}
		fmt.Fprintf(&sb, "\n- %s (%s, %.2f)", title, s.Type, s.Score)
	}
	return sb.String()
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk, backing off on rate limits and transient errors.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err := t.bot.Send(tgbotapi.NewMessage(chatID, text))
		if err == nil {
			return
		}

		errStr := err.Error()
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
