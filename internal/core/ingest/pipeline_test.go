package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidewater-labs/quarry/internal/core/ingest"
	"github.com/tidewater-labs/quarry/internal/core/llm"
	"github.com/tidewater-labs/quarry/internal/core/mock"
	"github.com/tidewater-labs/quarry/internal/core/token"
	"github.com/tidewater-labs/quarry/internal/models"
)

type fixture struct {
	store    *mock.Store
	objects  *mock.ObjectStore
	embedder *mock.Embedder
	pipeline *ingest.Pipeline
}

func newFixture(t *testing.T, embedder *mock.Embedder, extractor *mock.Extractor) *fixture {
	t.Helper()
	store := mock.NewStore()
	objects := mock.NewObjectStore()
	counter := token.NewCounter()

	gateway := llm.NewGateway(embedder, nil, counter, llm.GatewayConfig{
		BatchSize:      4,
		MaxRetries:     2,
		RetryBase:      time.Millisecond,
		RequestsPerSec: 1000,
	}, nil)
	chunker := ingest.NewChunker(counter, 20, 0)

	p, err := ingest.NewPipeline(store, objects, gateway, extractor, chunker, ingest.Config{
		Bucket:       "test-bucket",
		Workers:      2,
		ChunkWorkers: 2,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(p.Release)

	return &fixture{store: store, objects: objects, embedder: embedder, pipeline: p}
}

func (f *fixture) upload(t *testing.T, content string) (jobID, docID string) {
	t.Helper()
	ctx := context.Background()
	docID = uuid.NewString()
	url, err := f.objects.UploadFile(ctx, "test-bucket", "documents/"+docID+"/doc.txt", bytes.NewReader([]byte(content)), "text/plain")
	require.NoError(t, err)

	require.NoError(t, f.store.CreateDocument(ctx, &models.Document{
		ID: docID, FileName: "doc.txt", ContentType: "text/plain", StorageURL: url,
		Status: string(ingest.StageQueued),
	}))
	jobID = uuid.NewString()
	require.NoError(t, f.store.CreateJob(ctx, &models.Job{ID: jobID, DocumentID: docID, Stage: string(ingest.StageQueued)}))
	return jobID, docID
}

// waitTerminal polls the job until completed/failed, collecting every
// observed progress value along the way.
func waitTerminal(t *testing.T, store *mock.Store, jobID string) (*models.Job, []int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	var progress []int
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		require.NotNil(t, job)
		progress = append(progress, job.Progress)
		if ingest.Stage(job.Stage).Terminal() {
			return job, progress
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal stage", jobID)
	return nil, nil
}

func TestPipelineIngestsDocument(t *testing.T) {
	f := newFixture(t, &mock.Embedder{}, &mock.Extractor{})
	content := "paragraph one about harbors\n\nparagraph two about tides\n\nparagraph three about channels\n"
	jobID, docID := f.upload(t, content)

	require.NoError(t, f.pipeline.Submit(jobID, docID))
	job, progress := waitTerminal(t, f.store, jobID)

	assert.Equal(t, string(ingest.StageCompleted), job.Stage)
	assert.Equal(t, 100, job.Progress)
	assert.Empty(t, job.Error)

	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1], "progress must never decrease")
	}

	chunks, err := f.store.GetChunksByDocument(context.Background(), docID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.NotNil(t, ch.Embedding, "chunk %d should be embedded", ch.Position)
	}

	doc, err := f.store.GetDocumentByID(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, string(ingest.StageCompleted), doc.Status)
}

func TestPipelineFailsOnExtractionError(t *testing.T) {
	f := newFixture(t, &mock.Embedder{}, &mock.Extractor{Err: errors.New("corrupt file")})
	jobID, docID := f.upload(t, "anything")

	require.NoError(t, f.pipeline.Submit(jobID, docID))
	job, _ := waitTerminal(t, f.store, jobID)

	assert.Equal(t, string(ingest.StageFailed), job.Stage)
	assert.Contains(t, job.Error, "corrupt file")

	doc, err := f.store.GetDocumentByID(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, string(ingest.StageFailed), doc.Status)
}

func TestPipelineFailsOnEmptyDocument(t *testing.T) {
	f := newFixture(t, &mock.Embedder{}, &mock.Extractor{})
	jobID, docID := f.upload(t, "   \n\n   ")

	require.NoError(t, f.pipeline.Submit(jobID, docID))
	job, _ := waitTerminal(t, f.store, jobID)

	assert.Equal(t, string(ingest.StageFailed), job.Stage)
	assert.Contains(t, job.Error, "no extractable text")
}

func TestPipelineEmbeddingFailureIsTerminalForJobOnly(t *testing.T) {
	f := newFixture(t, &mock.Embedder{FailFirst: 1 << 30}, &mock.Extractor{})
	jobID, docID := f.upload(t, "some content that needs embedding\n")

	require.NoError(t, f.pipeline.Submit(jobID, docID))
	job, _ := waitTerminal(t, f.store, jobID)

	assert.Equal(t, string(ingest.StageFailed), job.Stage)
	assert.NotEmpty(t, job.Error)

	// Text chunks persisted before the failure stay in place.
	chunks, err := f.store.GetChunksByDocument(context.Background(), docID)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}

func TestPipelineReingestionSkipsEmbeddedChunks(t *testing.T) {
	embedder := &mock.Embedder{}
	f := newFixture(t, embedder, &mock.Extractor{})
	content := "stable content line one\nstable content line two\nstable content line three\n"
	jobID, docID := f.upload(t, content)

	require.NoError(t, f.pipeline.Submit(jobID, docID))
	job, _ := waitTerminal(t, f.store, jobID)
	require.Equal(t, string(ingest.StageCompleted), job.Stage)

	chunksBefore, err := f.store.GetChunksByDocument(context.Background(), docID)
	require.NoError(t, err)
	callsBefore := embedder.Calls()

	// A second job over the same document finds every chunk embedded.
	jobID2 := uuid.NewString()
	require.NoError(t, f.store.CreateJob(context.Background(), &models.Job{
		ID: jobID2, DocumentID: docID, Stage: string(ingest.StageQueued),
	}))
	require.NoError(t, f.pipeline.Submit(jobID2, docID))
	job2, _ := waitTerminal(t, f.store, jobID2)

	assert.Equal(t, string(ingest.StageCompleted), job2.Stage)
	assert.Equal(t, callsBefore, embedder.Calls(), "re-ingestion must not re-embed")

	chunksAfter, err := f.store.GetChunksByDocument(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, len(chunksBefore), len(chunksAfter), "re-ingestion must not duplicate chunks")
}

func TestPipelineCancelStopsRunningJob(t *testing.T) {
	embedder := &mock.Embedder{Block: make(chan struct{})}
	f := newFixture(t, embedder, &mock.Extractor{})
	content := "paragraph one about harbors\n\nparagraph two about tides\n\nparagraph three about channels\n"
	jobID, docID := f.upload(t, content)

	require.NoError(t, f.pipeline.Submit(jobID, docID))

	// Wait until the job is embedding, then cancel while the provider hangs.
	deadline := time.Now().Add(10 * time.Second)
	for {
		job, err := f.store.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		require.NotNil(t, job)
		if job.Stage == string(ingest.StageEmbedding) {
			break
		}
		require.True(t, time.Now().Before(deadline), "job never reached the embedding stage")
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, f.pipeline.Cancel(jobID))

	job, _ := waitTerminal(t, f.store, jobID)
	assert.Equal(t, string(ingest.StageFailed), job.Stage)
	assert.Equal(t, "cancelled by owner", job.Error)

	doc, err := f.store.GetDocumentByID(context.Background(), docID)
	require.NoError(t, err)
	assert.Equal(t, string(ingest.StageFailed), doc.Status)

	// Chunks persisted before the cancellation stay in place.
	chunks, err := f.store.GetChunksByDocument(context.Background(), docID)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}

func TestPipelineCancelUnknownJob(t *testing.T) {
	f := newFixture(t, &mock.Embedder{}, &mock.Extractor{})
	assert.False(t, f.pipeline.Cancel("no-such-job"))
}
