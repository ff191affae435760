package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sk0pp/ollabot/internal/client"
	"github.com/sk0pp/ollabot/internal/config"
	"github.com/sk0pp/ollabot/internal/store"
)

// fakeBackend scripts per-model outcomes and records every call.
type fakeBackend struct {
	mu      sync.Mutex
	answers map[string]string
	errs    map[string]error
	calls   []string
}

func (f *fakeBackend) Chat(_ context.Context, model string, _ []client.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, model)
	if err, ok := f.errs[model]; ok {
		return "", err
	}
	return f.answers[model], nil
}

func (f *fakeBackend) calledModels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func testConfig() *config.Config {
	return &config.Config{
		DefaultModel:       "primary",
		FallbackModel:      "fallback",
		SystemPrompt:       "be brief",
		MaxHistoryMessages: 12,
		MaxContextChars:    8000,
		MaxInputChars:      100,
		MaxReplyChars:      50,
		RateWindowSec:      10,
		RateMaxPerWindow:   4,
		ConversationTTLSec: 3600,
		MaxConversations:   1000,
		GCIntervalSec:      300,
	}
}

func newTestHandler(cfg *config.Config, backend Backend) (*Handler, *store.Store) {
	st := store.New(cfg.DefaultModel, cfg.ConversationTTL(), cfg.MaxConversations)
	return NewHandler(cfg, st, backend, nil), st
}

func TestHandleText_SuccessAppendsTurn(t *testing.T) {
	cfg := testConfig()
	backend := &fakeBackend{answers: map[string]string{"primary": "the answer"}}
	h, st := newTestHandler(cfg, backend)

	reply := h.HandleText(context.Background(), 1, "a question")
	assert.Equal(t, "the answer", reply)

	conv := st.GetOrCreate(1)
	require.Len(t, conv.History, 2)
	assert.Equal(t, client.Message{Role: client.RoleUser, Content: "a question"}, conv.History[0])
	assert.Equal(t, client.Message{Role: client.RoleAssistant, Content: "the answer"}, conv.History[1])
}

func TestHandleText_InputTooLong(t *testing.T) {
	cfg := testConfig()
	backend := &fakeBackend{}
	h, st := newTestHandler(cfg, backend)

	reply := h.HandleText(context.Background(), 1, strings.Repeat("x", cfg.MaxInputChars+1))
	assert.Contains(t, reply, "too long")
	assert.Empty(t, backend.calledModels(), "no backend call for oversized input")
	assert.Empty(t, st.GetOrCreate(1).History)
}

func TestHandleText_EmptyInput(t *testing.T) {
	h, _ := newTestHandler(testConfig(), &fakeBackend{})
	reply := h.HandleText(context.Background(), 1, "   \n ")
	assert.Equal(t, msgEmptyInput, reply)
}

func TestHandleText_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateMaxPerWindow = 2
	backend := &fakeBackend{answers: map[string]string{"primary": "ok"}}
	h, _ := newTestHandler(cfg, backend)

	h.HandleText(context.Background(), 1, "one")
	h.HandleText(context.Background(), 1, "two")
	reply := h.HandleText(context.Background(), 1, "three")

	assert.Contains(t, reply, "Too many messages")
	assert.Len(t, backend.calledModels(), 2, "rate-limited turn never reaches the backend")
}

func TestHandleText_FallbackSucceeds(t *testing.T) {
	cfg := testConfig()
	backend := &fakeBackend{
		answers: map[string]string{"fallback": "from fallback"},
		errs:    map[string]error{"primary": errors.New("boom")},
	}
	h, st := newTestHandler(cfg, backend)

	reply := h.HandleText(context.Background(), 1, "q")
	assert.Equal(t, "from fallback", reply)
	assert.Equal(t, []string{"primary", "fallback"}, backend.calledModels())

	conv := st.GetOrCreate(1)
	assert.Len(t, conv.History, 2, "the turn is recorded once")
	assert.Equal(t, "primary", conv.Model, "the stored model preference is untouched")
}

func TestHandleText_BothModelsFail(t *testing.T) {
	cfg := testConfig()
	backend := &fakeBackend{errs: map[string]error{
		"primary":  errors.New("boom"),
		"fallback": errors.New("also boom"),
	}}
	h, st := newTestHandler(cfg, backend)

	reply := h.HandleText(context.Background(), 1, "q")
	assert.Contains(t, reply, "Backend error")
	assert.Empty(t, st.GetOrCreate(1).History, "failed turns leave history unchanged")
}

func TestHandleText_ErrorReplyTruncated(t *testing.T) {
	longErr := errors.New(strings.Repeat("e", 2000))
	backend := &fakeBackend{errs: map[string]error{"primary": longErr, "fallback": longErr}}
	h, _ := newTestHandler(testConfig(), backend)

	reply := h.HandleText(context.Background(), 1, "q")
	assert.LessOrEqual(t, len([]rune(reply)), maxErrorReplyChars)
}

func TestHandleText_ReplyTruncatedToLimit(t *testing.T) {
	cfg := testConfig()
	backend := &fakeBackend{answers: map[string]string{"primary": strings.Repeat("a", 500)}}
	h, _ := newTestHandler(cfg, backend)

	reply := h.HandleText(context.Background(), 1, "q")
	assert.Len(t, []rune(reply), cfg.MaxReplyChars)
}

func TestHandleText_EmptyAnswerPlaceholder(t *testing.T) {
	backend := &fakeBackend{answers: map[string]string{"primary": ""}}
	h, st := newTestHandler(testConfig(), backend)

	reply := h.HandleText(context.Background(), 1, "q")
	assert.Equal(t, msgEmptyAnswer, reply)
	assert.Len(t, st.GetOrCreate(1).History, 2, "an empty answer is still a recorded turn")
}

func TestHandleText_HistoryStaysBounded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxHistoryMessages = 4
	// Generous window so the loop is not rate limited.
	cfg.RateMaxPerWindow = 100
	backend := &fakeBackend{answers: map[string]string{"primary": "ok"}}
	h, st := newTestHandler(cfg, backend)

	for i := 0; i < 10; i++ {
		h.HandleText(context.Background(), 1, fmt.Sprintf("message %d", i))
	}

	conv := st.GetOrCreate(1)
	assert.Len(t, conv.History, 4)
	assert.Equal(t, "message 9", conv.History[2].Content)
}

func TestHandleText_UsesSelectedModel(t *testing.T) {
	backend := &fakeBackend{answers: map[string]string{"custom": "custom answer"}}
	h, st := newTestHandler(testConfig(), backend)

	conv := st.GetOrCreate(1)
	conv.Model = "custom"

	reply := h.HandleText(context.Background(), 1, "q")
	assert.Equal(t, "custom answer", reply)
	assert.Equal(t, []string{"custom"}, backend.calledModels())
}

func TestStartCommand_ResetsHistoryAndModel(t *testing.T) {
	cfg := testConfig()
	h, st := newTestHandler(cfg, &fakeBackend{})

	conv := st.GetOrCreate(1)
	conv.Model = "custom"
	conv.History = []client.Message{{Role: client.RoleUser, Content: "old"}}

	reply := h.StartCommand(1)
	assert.Contains(t, reply, cfg.DefaultModel)
	assert.Contains(t, reply, "/model")
	assert.Empty(t, conv.History)
	assert.Equal(t, cfg.DefaultModel, conv.Model)
}

func TestResetCommand_PreservesModel(t *testing.T) {
	h, st := newTestHandler(testConfig(), &fakeBackend{})

	conv := st.GetOrCreate(1)
	conv.Model = "custom"
	conv.History = []client.Message{{Role: client.RoleUser, Content: "old"}}

	reply := h.ResetCommand(1)
	assert.Equal(t, "Context cleared.", reply)
	assert.Empty(t, conv.History)
	assert.Equal(t, "custom", conv.Model)
	assert.Equal(t, 1, st.Len())
}

func TestModelCommand_GetAndSet(t *testing.T) {
	h, st := newTestHandler(testConfig(), &fakeBackend{})

	assert.Contains(t, h.ModelCommand(context.Background(), 1, ""), "primary")

	reply := h.ModelCommand(context.Background(), 1, " llama3:8b ")
	assert.Contains(t, reply, "llama3:8b")
	assert.Equal(t, "llama3:8b", st.GetOrCreate(1).Model)
}

func TestCommands_BypassRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateMaxPerWindow = 1
	backend := &fakeBackend{answers: map[string]string{"primary": "ok"}}
	h, _ := newTestHandler(cfg, backend)

	h.HandleText(context.Background(), 1, "uses the only slot")
	for i := 0; i < 5; i++ {
		assert.Equal(t, "Context cleared.", h.ResetCommand(1))
	}
}

func TestHandleText_ConcurrentConversationsIndependent(t *testing.T) {
	cfg := testConfig()
	backend := &fakeBackend{answers: map[string]string{"primary": "ok"}}
	h, st := newTestHandler(cfg, backend)

	var wg sync.WaitGroup
	for id := int64(1); id <= 20; id++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			h.HandleText(context.Background(), id, "hello")
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 20, st.Len())
	for id := int64(1); id <= 20; id++ {
		assert.Len(t, st.GetOrCreate(id).History, 2)
	}
}
