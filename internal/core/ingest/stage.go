package ingest

// Stage is one step of the ingestion state machine. Stages only move
// forward through the fixed order; completed and failed are absorbing.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageExtracting Stage = "extracting"
	StageChunking   Stage = "chunking"
	StageEmbedding  Stage = "embedding"
	StageIndexing   Stage = "indexing"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

var stageOrder = map[Stage]int{
	StageQueued:     0,
	StageExtracting: 1,
	StageChunking:   2,
	StageEmbedding:  3,
	StageIndexing:   4,
	StageCompleted:  5,
}

// Terminal reports whether the stage is absorbing.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed
}

// Valid reports whether s is a known stage value.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok || s == StageFailed
}

// CanTransition reports whether moving from s to next is legal: strictly
// forward through the stage order, with failed reachable from any
// non-terminal stage. All transitions out of a terminal stage are rejected.
func (s Stage) CanTransition(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	from, ok := stageOrder[s]
	if !ok {
		return false
	}
	to, ok := stageOrder[next]
	if !ok {
		return false
	}
	return to > from
}
