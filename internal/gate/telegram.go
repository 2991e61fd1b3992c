package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hazyhaar/gazette/internal/store"
)

// TelegramNotifier pushes pending reviews to a Telegram chat with inline
// approve/reject buttons. Callback data is keyed by bucket date, so a
// resolution arriving after a restart still lands on the right cycle.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger

	// Resolve is wired to the service's ResolveReview after construction.
	Resolve func(ctx context.Context, date string, approved bool) error
}

// NewTelegramNotifier connects the bot. chatID is the numeric target chat.
func NewTelegramNotifier(token, chatID string, logger *slog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramNotifier{bot: bot, chatID: id, logger: logger}, nil
}

// NotifyReview sends the summary with approve/reject buttons.
func (n *TelegramNotifier) NotifyReview(ctx context.Context, rev *store.Review) error {
	text := fmt.Sprintf("Daily summary for %s awaiting review:\n\n%s", rev.BucketDate, rev.Summary)
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Approve", "approve:"+rev.BucketDate),
			tgbotapi.NewInlineKeyboardButtonData("Reject", "reject:"+rev.BucketDate),
		),
	)
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// Start consumes callback queries until ctx is cancelled. Non-blocking.
func (n *TelegramNotifier) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := n.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				n.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.CallbackQuery == nil {
					continue
				}
				n.handleCallback(ctx, update.CallbackQuery)
			}
		}
	}()
}

func (n *TelegramNotifier) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	action, date, ok := strings.Cut(cb.Data, ":")
	if !ok || (action != "approve" && action != "reject") {
		return
	}
	approved := action == "approve"

	if n.Resolve == nil {
		n.logger.Warn("telegram: callback with no resolver wired", "date", date)
		return
	}
	ack := "Rejected " + date
	if approved {
		ack = "Approved " + date
	}
	if err := n.Resolve(ctx, date, approved); err != nil {
		n.logger.Warn("telegram: resolve failed", "date", date, "error", err)
		ack = "Failed: " + err.Error()
	}

	n.bot.Request(tgbotapi.NewCallback(cb.ID, ack))
	if cb.Message != nil {
		// Remove the buttons so the decision cannot be re-sent from the chat.
		edit := tgbotapi.NewEditMessageReplyMarkup(n.chatID, cb.Message.MessageID,
			tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
		n.bot.Send(edit)
	}
}
