package notify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MEKXH/warden/internal/oversight"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var (
	boldStarRe   = regexp.MustCompile(`\*\*(.+?)\*\*`)
	codeInlineRe = regexp.MustCompile("`([^`]+)`")
)

// Sender is the part of *tgbotapi.BotAPI used here.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram sends oversight requests to a set of chats.
type Telegram struct {
	sender  Sender
	chatIDs []int64
}

// NewTelegram connects a bot with token and targets chatIDs.
func NewTelegram(token string, chatIDs []string) (*Telegram, error) {
	ids, err := parseChatIDs(chatIDs)
	if err != nil {
		return nil, err
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}
	return &Telegram{sender: bot, chatIDs: ids}, nil
}

// NewTelegramWithSender uses an existing sender.
func NewTelegramWithSender(sender Sender, chatIDs []int64) *Telegram {
	return &Telegram{sender: sender, chatIDs: append([]int64(nil), chatIDs...)}
}

func (t *Telegram) Notify(ctx context.Context, req oversight.Request) error {
	if t.sender == nil {
		return fmt.Errorf("bot not initialized")
	}
	text := FormatRequest(req)
	html := markdownToHTML(text)

	var errs []error
	for _, chatID := range t.chatIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		msg := tgbotapi.NewMessage(chatID, html)
		msg.ParseMode = "HTML"
		if _, err := t.sender.Send(msg); err != nil {
			msg.ParseMode = ""
			msg.Text = text
			if _, err := t.sender.Send(msg); err != nil {
				errs = append(errs, fmt.Errorf("send to chat %d: %w", chatID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func parseChatIDs(raw []string) ([]int64, error) {
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func markdownToHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	text = boldStarRe.ReplaceAllString(text, "<b>$1</b>")
	text = codeInlineRe.ReplaceAllString(text, "<code>$1</code>")
	return text
}
