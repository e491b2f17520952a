//
// Copyright (C) 2025 The kotori authors.  All rights reserved.
//
// kotori is licensed under the Apache License Version 2.0.
//
//

// Command kotori runs the language-tutor server: the HTTP management
// API plus the WebSocket push channel.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rumycoding/kotori/anki"
	"github.com/rumycoding/kotori/graph"
	"github.com/rumycoding/kotori/log"
	openaimodel "github.com/rumycoding/kotori/model/openai"
	"github.com/rumycoding/kotori/server"
	"github.com/rumycoding/kotori/session"
)

const (
	defaultAddr      = ":8000"
	defaultModelName = "gpt-4o-mini"

	shutdownTimeout = 10 * time.Second
	cleanupInterval = time.Hour
)

func main() {
	if level := os.Getenv("KOTORI_LOG_LEVEL"); level != "" {
		log.SetLevel(level)
	}

	addr := os.Getenv("KOTORI_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	modelName := os.Getenv("KOTORI_MODEL")
	if modelName == "" {
		modelName = defaultModelName
	}

	chatModel := openaimodel.New(modelName)
	ankiClient := anki.NewClient()
	manager := session.NewManager()
	saver := graph.NewInMemorySaver()

	srv := server.New(manager, chatModel, ankiClient,
		server.WithCheckpointSaver(saver),
	)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go reapLoop(ctx, manager)

	go func() {
		log.Infof("kotori server listening on %s (model=%s)", addr, modelName)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infof("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
}

// reapLoop periodically removes long-idle inactive sessions.
func reapLoop(ctx context.Context, manager *session.Manager) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := manager.CleanupInactive(session.DefaultMaxIdle); n > 0 {
				log.Infof("reaped %d inactive sessions", n)
			}
		case <-ctx.Done():
			return
		}
	}
}
