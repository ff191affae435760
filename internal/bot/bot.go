package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// pollTimeoutSec is the Telegram long-poll timeout.
const pollTimeoutSec = 30

// Bot is the Telegram long-polling transport. Each update is dispatched on
// its own goroutine; per-conversation ordering is provided by the
// conversation locks inside the handler, not by the transport.
type Bot struct {
	api     *tgbotapi.BotAPI
	handler *Handler
}

// New authenticates against the Telegram API with the given token.
func New(token string, debug bool, handler *Handler) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth failed: %w", err)
	}
	api.Debug = debug
	log.Infof("authorized on telegram account %s", api.Self.UserName)

	return &Bot{api: api, handler: handler}, nil
}

// Run polls for updates until ctx is cancelled. In-flight messages are not
// cancelled; they drain on their own goroutines.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSec
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			go b.dispatch(ctx, update.Message)
		}
	}
}

func (b *Bot) dispatch(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	var reply string
	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			reply = b.handler.StartCommand(chatID)
		case "reset":
			reply = b.handler.ResetCommand(chatID)
		case "model":
			reply = b.handler.ModelCommand(ctx, chatID, msg.CommandArguments())
		default:
			reply = "Unknown command."
		}
	} else {
		b.sendTyping(chatID)
		reply = b.handler.HandleText(ctx, chatID, msg.Text)
	}

	if strings.TrimSpace(reply) == "" {
		return
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, reply)); err != nil {
		log.Warnf("send failed for chat %d: %v", chatID, err)
	}
}

// sendTyping signals the typing chat action. Failures are swallowed; the
// indicator is cosmetic.
func (b *Bot) sendTyping(chatID int64) {
	if _, err := b.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		log.Debugf("typing action failed for chat %d: %v", chatID, err)
	}
}
