package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AgentHub/internal/config"
	"AgentHub/internal/events"
	"AgentHub/internal/session"
)

func TestBuildWorkersFromDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte("workers:\n  preview: true\n"), t.TempDir())
	require.NoError(t, err)

	workers, closeFn, err := buildWorkers(context.Background(), cfg)
	require.NoError(t, err)
	defer closeFn()

	names := make([]string, 0, len(workers))
	for _, w := range workers {
		names = append(names, w.Name())
	}
	assert.Equal(t, []string{"analyst", "writer", "reviewer", "previewer"}, names)
}

func TestCreateLLMClientRejectsUnknownProvider(t *testing.T) {
	_, err := createLLMClient(config.LLMConfig{Provider: "mystery"})
	assert.Error(t, err)
}

func TestOpenSessionStoreMemory(t *testing.T) {
	store, err := openSessionStore(context.Background(), config.SessionConfig{Driver: "memory"})
	require.NoError(t, err)
	_, ok := store.(*session.MemoryStore)
	assert.True(t, ok)
	assert.NoError(t, store.Close())
}

func TestAttachSinkMemoryIsNoop(t *testing.T) {
	bus := events.NewBus()
	defer func() { _ = bus.Close() }()
	assert.NoError(t, attachSink(bus, config.EventsConfig{Driver: "memory"}))
	assert.Error(t, attachSink(bus, config.EventsConfig{Driver: "kafka"}))
}

func TestBuildNotifiersAddsWebhook(t *testing.T) {
	d := buildNotifiers(config.AlertingConfig{WebhookURL: "http://127.0.0.1:9/alerts"})
	assert.Len(t, d.Channels(), 2)
}
