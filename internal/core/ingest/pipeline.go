package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tidewater-labs/quarry/internal/core"
	"github.com/tidewater-labs/quarry/internal/core/llm"
	"github.com/tidewater-labs/quarry/internal/models"
)

var errCancelled = errors.New("cancelled by owner")

// Config tunes the pipeline.
//
// Workers:      how many ingestion jobs run concurrently.
// ChunkWorkers: bound on concurrent embed/index batches within one job.
type Config struct {
	Bucket       string
	Workers      int
	ChunkWorkers int
}

// Pipeline runs ingestion jobs: extract, chunk, embed, index, each recorded
// on the job row so status polling observes every stage. Jobs are
// independent units of work on a bounded pool; chunk batches within the
// embedding stage run under a per-job errgroup with a concurrency limit.
type Pipeline struct {
	store        core.Store
	objects      core.ObjectStore
	gateway      *llm.Gateway
	extractor    core.DocumentExtractor
	chunker      *Chunker
	bucket       string
	jobPool      *ants.Pool
	chunkWorkers int
	logger       *slog.Logger

	cancels sync.Map // job id -> context.CancelFunc
}

func NewPipeline(
	store core.Store,
	objects core.ObjectStore,
	gateway *llm.Gateway,
	extractor core.DocumentExtractor,
	chunker *Chunker,
	cfg Config,
	logger *slog.Logger,
) (*Pipeline, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 2
	}
	if cfg.ChunkWorkers < 1 {
		cfg.ChunkWorkers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}

	jobPool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		store:        store,
		objects:      objects,
		gateway:      gateway,
		extractor:    extractor,
		chunker:      chunker,
		bucket:       cfg.Bucket,
		jobPool:      jobPool,
		chunkWorkers: cfg.ChunkWorkers,
		logger:       logger,
	}, nil
}

// Submit schedules an ingestion job. Blocks when all job workers are busy.
func (p *Pipeline) Submit(jobID, documentID string) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancels.Store(jobID, cancel)

	return p.jobPool.Submit(func() {
		defer func() {
			cancel()
			p.cancels.Delete(jobID)
		}()
		if err := p.run(ctx, jobID, documentID); err != nil {
			p.logger.Error("ingestion job failed", "job", jobID, "document", documentID, "err", err)
		}
	})
}

// Cancel requests cooperative cancellation of a running job. The job
// observes it at the next stage boundary; partially written chunks stay in
// place. Returns false when the job is unknown or already finished.
func (p *Pipeline) Cancel(jobID string) bool {
	v, ok := p.cancels.Load(jobID)
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	return true
}

// Release shuts down the job worker pool. In-flight jobs finish first.
func (p *Pipeline) Release() {
	p.jobPool.Release()
}

// run drives one job through the stage machine. Stage/progress writes use a
// context detached from the job's so a cancelled job can still record its
// terminal state.
func (p *Pipeline) run(ctx context.Context, jobID, documentID string) error {
	dbctx := context.WithoutCancel(ctx)
	stage := StageQueued

	advance := func(next Stage, progress int) error {
		if err := ctx.Err(); err != nil {
			return errCancelled
		}
		if !stage.CanTransition(next) {
			return fmt.Errorf("illegal stage transition %s -> %s", stage, next)
		}
		if err := p.store.UpdateJob(dbctx, jobID, string(next), progress, ""); err != nil {
			return err
		}
		stage = next
		_ = p.store.UpdateDocumentStatus(dbctx, documentID, string(next))
		return nil
	}

	fail := func(err error) error {
		msg := err.Error()
		if errors.Is(err, errCancelled) {
			msg = "cancelled by owner"
		}
		// Progress 0 keeps the stored value; the store never lets it drop.
		_ = p.store.UpdateJob(dbctx, jobID, string(StageFailed), 0, msg)
		_ = p.store.UpdateDocumentStatus(dbctx, documentID, string(StageFailed))
		return err
	}

	doc, err := p.store.GetDocumentByID(dbctx, documentID)
	if err != nil || doc == nil {
		return fail(fmt.Errorf("document %s not found: %w", documentID, err))
	}

	// Stage: extracting.
	if err := advance(StageExtracting, 5); err != nil {
		return fail(err)
	}
	bucket, key := parseS3URL(doc.StorageURL)
	if bucket == "" {
		bucket = p.bucket
	}
	data, err := p.objects.GetFile(ctx, bucket, key)
	if err != nil {
		return fail(core.NewError(core.CodeExtraction, "cannot read stored file", err))
	}
	text, err := p.extractor.Extract(ctx, data, doc.ContentType)
	if err != nil {
		if ctx.Err() != nil {
			return fail(errCancelled)
		}
		return fail(err)
	}
	if strings.TrimSpace(text) == "" {
		return fail(core.NewError(core.CodeEmptyDocument, "document yielded no extractable text", core.ErrEmptyDocument))
	}

	// Stage: chunking. Chunk rows double as the keyword index, so they are
	// persisted here; vectors land in the embedding stage.
	if err := advance(StageChunking, 15); err != nil {
		return fail(err)
	}
	chunks := p.chunker.Split(documentID, text)
	if len(chunks) == 0 {
		return fail(core.NewError(core.CodeEmptyDocument, "document yielded no chunks", core.ErrEmptyDocument))
	}
	if err := p.store.UpsertChunks(dbctx, chunks); err != nil {
		return fail(core.NewError(core.CodeIndex, "persisting chunks failed", err))
	}

	// Stage: embedding.
	if err := advance(StageEmbedding, 20); err != nil {
		return fail(err)
	}
	if err := p.embedChunks(ctx, jobID, documentID, chunks); err != nil {
		if ctx.Err() != nil {
			return fail(errCancelled)
		}
		return fail(err)
	}

	// Stage: indexing. Vectors were upserted batch-by-batch; verify nothing
	// is missing before declaring the document searchable.
	if err := advance(StageIndexing, 90); err != nil {
		return fail(err)
	}
	indexed, err := p.store.EmbeddedChunkIDs(dbctx, documentID)
	if err != nil {
		return fail(core.NewError(core.CodeIndex, "index verification failed", err))
	}
	for _, ch := range chunks {
		if !indexed[ch.ID] {
			return fail(core.NewError(core.CodeIndex,
				fmt.Sprintf("chunk %d missing from index", ch.Position), core.ErrIndex))
		}
	}

	if err := advance(StageCompleted, 100); err != nil {
		return fail(err)
	}
	p.logger.Info("ingestion completed", "job", jobID, "document", documentID, "chunks", len(chunks))
	return nil
}

// embedChunks embeds pending chunks in parallel batches, skipping chunks
// already embedded by a previous attempt.
func (p *Pipeline) embedChunks(ctx context.Context, jobID, documentID string, chunks []models.Chunk) error {
	dbctx := context.WithoutCancel(ctx)

	already, err := p.store.EmbeddedChunkIDs(dbctx, documentID)
	if err != nil {
		return core.NewError(core.CodeIndex, "listing embedded chunks failed", err)
	}

	var pending []models.Chunk
	for _, ch := range chunks {
		if !already[ch.ID] {
			pending = append(pending, ch)
		}
	}
	total := len(chunks)
	var done atomic.Int64
	done.Store(int64(total - len(pending)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.chunkWorkers)

	batchSize := p.gateway.BatchSize()
	for start := 0; start < len(pending); start += batchSize {
		end := min(start+batchSize, len(pending))
		batch := pending[start:end]
		g.Go(func() error {
			return p.embedBatch(gctx, jobID, batch, total, &done)
		})
	}
	err = g.Wait()

	if ctx.Err() != nil {
		return errCancelled
	}
	return err
}

// embedBatch embeds one batch and upserts it right away; a failure in a
// later batch never rolls it back.
func (p *Pipeline) embedBatch(ctx context.Context, jobID string, batch []models.Chunk, total int, done *atomic.Int64) error {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Text
	}

	vecs, err := p.gateway.EmbedBatch(ctx, texts)
	if err != nil {
		return core.NewError(core.CodeEmbedding, "embedding batch failed after retries", err)
	}

	embedded := make([]models.Chunk, len(batch))
	copy(embedded, batch)
	for i := range embedded {
		embedded[i].Embedding = vecs[i]
	}

	if err := p.store.UpsertChunks(context.WithoutCancel(ctx), embedded); err != nil {
		return core.NewError(core.CodeIndex, "index upsert failed", err)
	}

	n := int(done.Add(int64(len(batch))))
	progress := 20 + 65*n/total
	return p.store.UpdateJob(context.WithoutCancel(ctx), jobID, string(StageEmbedding), progress, "")
}

// parseS3URL extracts the bucket and key from a virtual-hosted-style S3 URL,
// e.g. https://my-bucket.s3.us-east-2.amazonaws.com/path/to/file.pdf.
func parseS3URL(u string) (bucket, key string) {
	hostPath := strings.SplitN(strings.TrimPrefix(u, "https://"), "/", 2)
	host := hostPath[0]
	if len(hostPath) == 2 {
		key = hostPath[1]
	}
	parts := strings.Split(host, ".")
	if len(parts) > 0 {
		bucket = parts[0]
	}
	return bucket, key
}
