package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetRoutesHelpers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := L()
	Set(zap.New(core))
	defer Set(prev)

	Warn("queue full", zap.String("task", "dispatch_action"))
	Info("started")

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, "queue full", entries[0].Message)
	assert.Equal(t, "dispatch_action", entries[0].ContextMap()["task"])
}

func TestInitFallsBackOnBadLevel(t *testing.T) {
	prev := L()
	defer Set(prev)
	assert.NoError(t, Init("not-a-level", "json"))
}
