package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/theimaginaryfoundation/quotemine/extraction/checkpoint"
	"github.com/theimaginaryfoundation/quotemine/extraction/metrics"
)

// DefaultCallTimeout bounds one extraction call, retries included.
const DefaultCallTimeout = 120 * time.Second

// ExtractionRequest is what one chunk sends to the extraction service.
type ExtractionRequest struct {
	// Instructions is the system-level guidance, including the chunk's page range.
	Instructions string
	// InputText is the chunk body with its inline [p.N] markers.
	InputText string
}

// Extractor sends one request to the extraction service and returns the reply text.
type Extractor interface {
	Extract(ctx context.Context, req ExtractionRequest) (string, error)
}

// ChunkLedger remembers finished chunks across runs.
type ChunkLedger interface {
	Done(ctx context.Context, key string) (bool, error)
	Record(ctx context.Context, key string, pageStart, pageEnd int, status string, quotes int) error
}

// ChunkInstructions appends the chunk's page range to the base instructions.
func ChunkInstructions(base string, c Chunk) string {
	return base + "\nChunk pages: " + strconv.Itoa(c.PageStart) + "-" + strconv.Itoa(c.PageEnd) + ". Output ONLY the JSON object."
}

// ChunkKey fingerprints a chunk by its page range and text.
func ChunkKey(c Chunk) string {
	h := sha256.New()
	h.Write([]byte(strconv.Itoa(c.PageStart) + "-" + strconv.Itoa(c.PageEnd) + "\n"))
	h.Write([]byte(c.Text))
	return hex.EncodeToString(h.Sum(nil))
}

// ScanOptions tunes a scan.
type ScanOptions struct {
	// Instructions is the base extraction guidance (defaults to DefaultScanInstructions).
	Instructions string

	// Concurrency is the number of chunks in flight (defaults to 1).
	Concurrency int

	// CallTimeout bounds each extraction call (defaults to DefaultCallTimeout).
	CallTimeout time.Duration

	// RequestsPerMinute caps the extraction call rate; 0 means no cap.
	RequestsPerMinute int

	// Progress, when set, is called after each chunk with the number finished so far.
	Progress func(done, total int)
}

// PipelineConfig wires a Pipeline.
type PipelineConfig struct {
	RunID     string
	Extractor Extractor
	Sink      *QuoteSink
	Ledger    ChunkLedger
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Options   ScanOptions
}

// Pipeline is the per-run context threaded through every chunk: the extraction client,
// the dedup sink, the optional ledger, and the run's logger and metrics.
type Pipeline struct {
	runID     string
	extractor Extractor
	sink      *QuoteSink
	ledger    ChunkLedger
	metrics   *metrics.Metrics
	log       *zap.Logger
	limiter   *rate.Limiter
	opts      ScanOptions

	stats scanCounters
}

// ScanStats summarizes a scan.
type ScanStats struct {
	Chunks        int `json:"chunks"`
	Failed        int `json:"chunks_failed"`
	Skipped       int `json:"chunks_skipped"`
	Candidates    int `json:"candidates"`
	SchemaDropped int `json:"schema_dropped"`
	Rejected      int `json:"rejected"`
	Duplicates    int `json:"duplicates"`
	Written       int `json:"written"`
}

type scanCounters struct {
	done, failed, skipped, candidates, dropped, rejected, duplicates, written atomic.Int64
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Extractor == nil {
		return nil, eris.New("NewPipeline: extractor is nil")
	}
	if cfg.Sink == nil {
		return nil, eris.New("NewPipeline: sink is nil")
	}
	opts := cfg.Options
	if opts.Instructions == "" {
		opts.Instructions = DefaultScanInstructions
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	p := &Pipeline{
		runID:     cfg.RunID,
		extractor: cfg.Extractor,
		sink:      cfg.Sink,
		ledger:    cfg.Ledger,
		metrics:   cfg.Metrics,
		log:       log.With(zap.String("run_id", cfg.RunID)),
		opts:      opts,
	}
	if opts.RequestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), 1)
	}
	return p, nil
}

// Scan extracts, verifies and stores quotes for every chunk.
//
// A chunk whose call fails, times out, or returns an undecodable reply contributes zero
// quotes and the scan continues. Only store or ledger failures and cancellation of ctx
// end the scan early.
func (p *Pipeline) Scan(ctx context.Context, chunks []Chunk) (ScanStats, error) {
	if ctx == nil {
		return ScanStats{}, eris.New("Scan: ctx is nil")
	}
	if len(chunks) == 0 {
		return ScanStats{}, eris.Wrap(ErrEmptyInput, "Scan: no chunks")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	total := len(chunks)
	for _, c := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			err := p.processChunk(gctx, c)
			done := int(p.stats.done.Add(1))
			if p.opts.Progress != nil {
				p.opts.Progress(done, total)
			}
			return err
		})
	}
	err := g.Wait()

	stats := p.Stats()
	p.log.Info("scan finished",
		zap.Int("chunks", stats.Chunks),
		zap.Int("chunks_failed", stats.Failed),
		zap.Int("chunks_skipped", stats.Skipped),
		zap.Int("candidates", stats.Candidates),
		zap.Int("schema_dropped", stats.SchemaDropped),
		zap.Int("rejected", stats.Rejected),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("written", stats.Written),
	)
	if err != nil {
		return stats, err
	}
	if ctx.Err() != nil {
		return stats, ctx.Err()
	}
	return stats, nil
}

// Stats returns the counters accumulated so far.
func (p *Pipeline) Stats() ScanStats {
	return ScanStats{
		Chunks:        int(p.stats.done.Load()),
		Failed:        int(p.stats.failed.Load()),
		Skipped:       int(p.stats.skipped.Load()),
		Candidates:    int(p.stats.candidates.Load()),
		SchemaDropped: int(p.stats.dropped.Load()),
		Rejected:      int(p.stats.rejected.Load()),
		Duplicates:    int(p.stats.duplicates.Load()),
		Written:       int(p.stats.written.Load()),
	}
}

func (p *Pipeline) processChunk(ctx context.Context, c Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log := p.log.With(zap.Int("page_start", c.PageStart), zap.Int("page_end", c.PageEnd))

	key := ChunkKey(c)
	if p.ledger != nil {
		done, err := p.ledger.Done(ctx, key)
		if err != nil {
			return eris.Wrap(err, "Scan: ledger lookup")
		}
		if done {
			p.stats.skipped.Add(1)
			p.metrics.Chunk(metrics.ChunkSkipped)
			log.Debug("chunk already done")
			return nil
		}
	}

	reply, err := p.extract(ctx, c)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("extraction failed", zap.Error(err))
		return p.fail(ctx, key, c)
	}

	parsed := ParseResponse(reply)
	p.stats.candidates.Add(int64(len(parsed.Candidates)))
	p.stats.dropped.Add(int64(parsed.Dropped))
	p.metrics.Candidates(len(parsed.Candidates))
	p.metrics.Quotes(metrics.QuoteSchemaDropped, parsed.Dropped)
	if parsed.Status == Unparseable {
		log.Warn("unparseable extraction reply", zap.Int("reply_len", len(reply)))
		return p.fail(ctx, key, c)
	}
	if parsed.Dropped > 0 {
		log.Debug("dropped records failing schema", zap.Int("dropped", parsed.Dropped), zap.Stringer("status", parsed.Status))
	}

	verified := Verify(c, parsed.Candidates)
	p.stats.rejected.Add(int64(verified.Rejected))
	p.metrics.Quotes(metrics.QuoteRejected, verified.Rejected)
	if verified.Rejected > 0 {
		log.Debug("rejected candidates not found verbatim", zap.Int("rejected", verified.Rejected))
	}

	written := 0
	for _, q := range verified.Verified {
		ok, err := p.sink.Accept(q)
		if err != nil {
			return eris.Wrap(err, "Scan: store quote")
		}
		if ok {
			written++
		} else {
			p.stats.duplicates.Add(1)
			p.metrics.Quotes(metrics.QuoteDuplicate, 1)
		}
	}
	p.stats.written.Add(int64(written))
	p.metrics.Quotes(metrics.QuoteWritten, written)
	p.metrics.Chunk(metrics.ChunkOK)

	if p.ledger != nil {
		if err := p.ledger.Record(ctx, key, c.PageStart, c.PageEnd, checkpoint.StatusDone, written); err != nil {
			return eris.Wrap(err, "Scan: ledger record")
		}
	}
	log.Debug("chunk done", zap.Int("written", written))
	return nil
}

func (p *Pipeline) extract(ctx context.Context, c Chunk) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.opts.CallTimeout)
	defer cancel()

	if p.limiter != nil {
		if err := p.limiter.Wait(callCtx); err != nil {
			return "", eris.Wrap(err, "rate limit wait")
		}
	}

	start := time.Now()
	reply, err := p.extractor.Extract(callCtx, ExtractionRequest{
		Instructions: ChunkInstructions(p.opts.Instructions, c),
		InputText:    c.Text,
	})
	p.metrics.ObserveExtraction(time.Since(start))
	return reply, err
}

func (p *Pipeline) fail(ctx context.Context, key string, c Chunk) error {
	p.stats.failed.Add(1)
	p.metrics.Chunk(metrics.ChunkFailed)
	if p.ledger != nil {
		if err := p.ledger.Record(ctx, key, c.PageStart, c.PageEnd, checkpoint.StatusFailed, 0); err != nil {
			return eris.Wrap(err, "Scan: ledger record")
		}
	}
	return nil
}
