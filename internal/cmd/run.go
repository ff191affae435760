// Package cmd wires the bot's components together and runs the service
// until a shutdown signal arrives.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sk0pp/ollabot/internal/api"
	"github.com/sk0pp/ollabot/internal/bot"
	"github.com/sk0pp/ollabot/internal/client"
	"github.com/sk0pp/ollabot/internal/config"
	"github.com/sk0pp/ollabot/internal/registry"
	"github.com/sk0pp/ollabot/internal/store"
)

// shutdownTimeout bounds the graceful stop of the management server.
const shutdownTimeout = 10 * time.Second

// StartService runs the bot with the given configuration and Telegram
// token, blocking until SIGINT or SIGTERM.
func StartService(cfg *config.Config, token string) error {
	ollama := client.New(cfg)
	ollama.Start()

	st := store.New(cfg.DefaultModel, cfg.ConversationTTL(), cfg.MaxConversations)
	reg := registry.New(ollama)
	handler := bot.NewHandler(cfg, st, ollama, reg)

	tg, err := bot.New(token, cfg.Debug, handler)
	if err != nil {
		ollama.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	gc := store.NewGC(st, cfg.GCInterval())
	wg.Add(1)
	go func() {
		defer wg.Done()
		gc.Run(ctx)
	}()

	var mgmt *api.Server
	if cfg.ManagementPort > 0 {
		mgmt = api.NewServer(cfg, st)
		mgmt.Start()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		tg.Run(ctx)
	}()

	log.Infof("bot started, ollama=%s model=%s", cfg.OllamaURL, cfg.DefaultModel)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutdown signal received, cleaning up")
	cancel()

	if mgmt != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if errStop := mgmt.Stop(shutdownCtx); errStop != nil {
			log.Warnf("management API stop failed: %v", errStop)
		}
		shutdownCancel()
	}

	// The GC loop and the polling loop must be stopped before the
	// connection pool goes away.
	wg.Wait()
	ollama.Close()

	log.Info("bot stopped")
	return nil
}
