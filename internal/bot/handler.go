// Package bot contains the Telegram transport and the per-message
// orchestration: locking, rate limiting, validation, the backend call with
// model fallback, and history maintenance.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/sk0pp/ollabot/internal/client"
	"github.com/sk0pp/ollabot/internal/config"
	"github.com/sk0pp/ollabot/internal/history"
	"github.com/sk0pp/ollabot/internal/ratelimit"
	"github.com/sk0pp/ollabot/internal/registry"
	"github.com/sk0pp/ollabot/internal/store"
)

// maxErrorReplyChars bounds backend error text shown to the user.
const maxErrorReplyChars = 600

const (
	msgEmptyAnswer   = "The model returned an empty answer."
	msgEmptyInput    = "Send me a text message."
	msgInternalError = "Internal error, try again."
)

// Backend executes one chat completion call. Satisfied by *client.Client.
type Backend interface {
	Chat(ctx context.Context, model string, messages []client.Message) (string, error)
}

// Handler processes inbound messages and commands for all conversations.
// It is safe for concurrent use: all per-conversation state is accessed
// under that conversation's lock.
type Handler struct {
	cfg      *config.Config
	store    *store.Store
	limiter  *ratelimit.Limiter
	backend  Backend
	registry *registry.Registry
}

// NewHandler wires the handler's collaborators. The registry may be nil,
// which disables the /model existence check.
func NewHandler(cfg *config.Config, st *store.Store, backend Backend, reg *registry.Registry) *Handler {
	return &Handler{
		cfg:      cfg,
		store:    st,
		limiter:  ratelimit.New(cfg.RateWindow(), cfg.RateMaxPerWindow),
		backend:  backend,
		registry: reg,
	}
}

// HandleText processes one plain-text message and returns the reply.
// Failures of any kind are converted to a short user-visible message; no
// error escapes a turn.
func (h *Handler) HandleText(ctx context.Context, chatID int64, text string) (reply string) {
	logger := log.WithFields(log.Fields{"chat": chatID, "turn": uuid.NewString()})
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("message handler panicked: %v\n%s", r, debug.Stack())
			reply = msgInternalError
		}
	}()

	conv := h.store.GetOrCreate(chatID)

	// Best-effort pressure relief between sweeps; the scheduled sweep is
	// the real enforcement.
	if h.store.Len() > h.cfg.MaxConversations {
		if removed := h.store.Sweep(time.Now()); removed > 0 {
			logger.Debugf("proactive sweep evicted %d conversations", removed)
		}
	}

	conv.Lock()
	defer conv.Unlock()

	if !h.limiter.Allow(&conv.Hits, time.Now()) {
		return fmt.Sprintf("Too many messages. Wait %d seconds.", h.cfg.RateWindowSec)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return msgEmptyInput
	}
	if utf8.RuneCountInString(text) > h.cfg.MaxInputChars {
		return fmt.Sprintf("Message too long, the limit is %d characters.", h.cfg.MaxInputChars)
	}

	request := history.BuildRequest(h.cfg.SystemPrompt, conv.History,
		h.cfg.MaxHistoryMessages, h.cfg.MaxContextChars, text)

	answer, err := h.backend.Chat(ctx, conv.Model, request)
	if err != nil {
		logger.Warnf("model %s failed: %v; retrying with fallback %s", conv.Model, err, h.cfg.FallbackModel)
		answer, err = h.backend.Chat(ctx, h.cfg.FallbackModel, request)
		if err != nil {
			return truncate("Backend error: "+err.Error(), maxErrorReplyChars)
		}
	}

	conv.History = append(conv.History,
		client.Message{Role: client.RoleUser, Content: text},
		client.Message{Role: client.RoleAssistant, Content: answer},
	)
	conv.History = history.TrimByChars(
		history.TrimByCount(conv.History, h.cfg.MaxHistoryMessages),
		h.cfg.MaxContextChars,
	)

	if answer == "" {
		return msgEmptyAnswer
	}
	return truncate(answer, h.cfg.MaxReplyChars)
}

// StartCommand clears the conversation, restores the default model and
// returns the greeting with the command summary.
func (h *Handler) StartCommand(chatID int64) string {
	conv := h.store.GetOrCreate(chatID)
	conv.Lock()
	conv.History = nil
	conv.Model = h.cfg.DefaultModel
	model := conv.Model
	conv.Unlock()

	return fmt.Sprintf("Ready.\nModel: %s\nCommands:\n"+
		"/model — show the active model\n"+
		"/model <name> — switch the model\n"+
		"/reset — clear the context", model)
}

// ResetCommand clears the conversation's history, keeping its model.
func (h *Handler) ResetCommand(chatID int64) string {
	h.store.GetOrCreate(chatID)
	h.store.Reset(chatID)
	return "Context cleared."
}

// ModelCommand reports the active model when arg is empty, otherwise sets
// it. An unknown model name is still accepted but the reply carries a
// warning when the registry can tell.
func (h *Handler) ModelCommand(ctx context.Context, chatID int64, arg string) string {
	conv := h.store.GetOrCreate(chatID)

	arg = strings.TrimSpace(arg)
	if arg == "" {
		conv.Lock()
		model := conv.Model
		conv.Unlock()
		return fmt.Sprintf("Active model: %s", model)
	}

	conv.Lock()
	conv.Model = arg
	conv.Unlock()

	reply := fmt.Sprintf("Ok. Model: %s", arg)
	if h.registry != nil {
		if known, err := h.registry.Known(ctx, arg); err == nil && !known {
			reply += "\nWarning: the server does not list this model."
		}
	}
	return reply
}

// truncate shortens s to at most max characters.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
