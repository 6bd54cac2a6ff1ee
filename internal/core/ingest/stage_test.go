package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageTransitions(t *testing.T) {
	cases := []struct {
		from, to Stage
		ok       bool
	}{
		{StageQueued, StageExtracting, true},
		{StageExtracting, StageChunking, true},
		{StageChunking, StageEmbedding, true},
		{StageEmbedding, StageIndexing, true},
		{StageIndexing, StageCompleted, true},
		{StageQueued, StageIndexing, true}, // skipping forward is legal

		{StageChunking, StageExtracting, false},
		{StageCompleted, StageExtracting, false},
		{StageEmbedding, StageEmbedding, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestStageFailedReachableFromAnyNonTerminal(t *testing.T) {
	for _, s := range []Stage{StageQueued, StageExtracting, StageChunking, StageEmbedding, StageIndexing} {
		assert.True(t, s.CanTransition(StageFailed), "%s -> failed", s)
	}
	assert.False(t, StageCompleted.CanTransition(StageFailed))
	assert.False(t, StageFailed.CanTransition(StageExtracting))
	assert.False(t, StageFailed.CanTransition(StageCompleted))
}

func TestStageTerminal(t *testing.T) {
	assert.True(t, StageCompleted.Terminal())
	assert.True(t, StageFailed.Terminal())
	assert.False(t, StageEmbedding.Terminal())
}
