// Package agents executes the multi-agent extraction pipeline for one run:
// parallel per-unit extraction, aggregate report generation, and report
// validation. The runner emits every raw agent response onto an event
// stream; it never persists anything itself.
package agents

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/girderworks/boqd/services/boq/datatypes"
	"github.com/girderworks/boqd/services/boq/pipeline"
)

var tracer = otel.Tracer("boqd.agents")

// filePrefix marks a run message that references a staged upload.
const filePrefix = "[FILE] "

// Runner executes the agent pipeline and implements pipeline.StreamOpener.
//
// # Description
//
// For each run the runner reads the staged document, fans out one extraction
// agent per unit, then iterates generate→validate up to the configured
// ceiling. Each raw agent response is pushed onto the returned stream as it
// arrives; extraction events from concurrent agents interleave in arrival
// order. The runner stops iterating on its own passing verdict or at the
// ceiling, so the stream always terminates shortly after the final verdict
// event.
//
// # Thread Safety
//
// Safe for concurrent use; per-run state lives in the producer goroutine.
type Runner struct {
	client         LLMClient
	config         RunnerConfig
	maxValidations int
	limiter        *rate.Limiter
}

var _ pipeline.StreamOpener = (*Runner)(nil)

// NewRunner creates a runner over the given LLM backend.
//
// # Inputs
//
//   - client: LLM backend shared by all stages. Must not be nil.
//   - cfg: Stage tuning, usually from agents.yaml.
//   - maxValidations: Generate→validate iteration ceiling; non-positive
//     values use the pipeline default.
func NewRunner(client LLMClient, cfg RunnerConfig, maxValidations int) *Runner {
	if maxValidations <= 0 {
		maxValidations = pipeline.DefaultMaxValidations
	}
	cfg.applyDefaults()

	limit := rate.Inf
	if interval := cfg.rateInterval(); interval > 0 {
		limit = rate.Every(interval)
	}
	return &Runner{
		client:         client,
		config:         cfg,
		maxValidations: maxValidations,
		limiter:        rate.NewLimiter(limit, 1),
	}
}

// OpenStream starts the pipeline for one run.
//
// The message must reference the staged upload as "[FILE] <path>". The file
// is read and chunked up front, so open errors (missing file, unreadable
// content) surface here rather than mid-stream.
func (r *Runner) OpenStream(ctx context.Context, run datatypes.RunKey, message string) (pipeline.EventStream, error) {
	if !strings.HasPrefix(message, filePrefix) {
		return nil, fmt.Errorf("unsupported run message %q: expected %q prefix", message, filePrefix)
	}
	path := strings.TrimSpace(strings.TrimPrefix(message, filePrefix))

	document, err := r.loadDocument(path)
	if err != nil {
		return nil, err
	}

	stream := &chanStream{events: make(chan string)}
	go r.produce(ctx, run, document, stream)
	return stream, nil
}

// loadDocument reads and chunks the staged upload, keeping whole chunks up
// to the configured character budget.
func (r *Runner) loadDocument(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read document %s: %w", path, err)
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(r.config.ChunkSize),
		textsplitter.WithChunkOverlap(r.config.ChunkOverlap),
	)
	chunks, err := splitter.SplitText(string(raw))
	if err != nil {
		return "", fmt.Errorf("split document %s: %w", path, err)
	}

	var b strings.Builder
	for _, chunk := range chunks {
		if b.Len()+len(chunk) > r.config.MaxDocumentChars && b.Len() > 0 {
			slog.Warn("Document truncated to character budget",
				"path", path,
				"budget", r.config.MaxDocumentChars,
				"total_chunks", len(chunks),
			)
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(chunk)
	}
	return b.String(), nil
}

// produce runs all pipeline stages and closes the stream when done.
func (r *Runner) produce(ctx context.Context, run datatypes.RunKey, document string, stream *chanStream) {
	ctx, span := tracer.Start(ctx, "Runner.produce")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.user_id", run.UserID),
		attribute.String("run.session_id", run.SessionID),
	)
	logger := slog.With("user_id", run.UserID, "session_id", run.SessionID)

	defer stream.finish()

	findings, err := r.extract(ctx, document, stream, logger)
	if err != nil {
		stream.fail(err)
		return
	}

	if err := r.generateAndValidate(ctx, document, findings, stream, logger); err != nil {
		stream.fail(err)
	}
}

// extract fans out one agent per extraction unit and emits each raw
// response as it arrives. It also collects the parsed findings for the
// generation stage; a response the decoder rejects is still emitted but
// contributes nothing to the findings.
func (r *Runner) extract(ctx context.Context, document string, stream *chanStream,
	logger *slog.Logger) (map[datatypes.UnitName]any, error) {

	findings := make(map[datatypes.UnitName]any)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, unit := range datatypes.ExtractionUnits() {
		g.Go(func() error {
			raw, err := r.generate(gctx, extractionPrompt(unit, document), r.config.Extraction)
			if err != nil {
				return fmt.Errorf("extraction agent %s: %w", unit, err)
			}
			if !stream.emit(gctx, raw) {
				return gctx.Err()
			}

			payload, err := pipeline.DecodeEvent(raw)
			if err != nil {
				logger.Warn("Extraction response is not decodable JSON", "unit", unit, "error", err)
				return nil
			}
			if data, ok := payload[string(unit)]; ok {
				mu.Lock()
				findings[unit] = data
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logger.Info("Extraction stage finished", "findings", len(findings))
	return findings, nil
}

// generateAndValidate iterates the report generator and validator until the
// validator passes or the iteration ceiling is reached. The last draft and
// the last verdict are always emitted before the loop ends, so the consumer
// sees the terminal verdict even on a forced stop.
func (r *Runner) generateAndValidate(ctx context.Context, document string,
	findings map[datatypes.UnitName]any, stream *chanStream, logger *slog.Logger) error {

	var issues []string
	for iteration := 1; iteration <= r.maxValidations; iteration++ {
		raw, err := r.generate(ctx, generationPrompt(document, findings, issues), r.config.Generation)
		if err != nil {
			return fmt.Errorf("generation iteration %d: %w", iteration, err)
		}
		if !stream.emit(ctx, raw) {
			return ctx.Err()
		}

		var report any = raw
		if payload, err := pipeline.DecodeEvent(raw); err == nil {
			if data, ok := payload[string(datatypes.UnitBoq)]; ok {
				report = data
			}
		}

		rawVerdict, err := r.generate(ctx, validationPrompt(report), r.config.Validation)
		if err != nil {
			return fmt.Errorf("validation iteration %d: %w", iteration, err)
		}
		if !stream.emit(ctx, rawVerdict) {
			return ctx.Err()
		}

		accepted, verdictIssues := parseVerdictEvent(rawVerdict)
		logger.Info("Validation iteration finished",
			"iteration", iteration,
			"accepted", accepted,
			"issues", len(verdictIssues),
		)
		if accepted {
			return nil
		}
		issues = verdictIssues
	}

	logger.Warn("Validation ceiling reached without a passing verdict",
		"max_validations", r.maxValidations)
	return nil
}

// generate performs one rate-limited LLM call for a pipeline stage.
func (r *Runner) generate(ctx context.Context, prompt string, stage AgentConfig) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return r.client.Generate(ctx, prompt, stage.params())
}

// parseVerdictEvent reads a raw validator response. Undecodable or
// malformed verdicts count as a failure with no issues.
func parseVerdictEvent(raw string) (bool, []string) {
	payload, err := pipeline.DecodeEvent(raw)
	if err != nil {
		return false, nil
	}
	outcome, ok := payload[datatypes.VerdictKey].(string)
	if !ok {
		return false, nil
	}
	var issues []string
	if list, ok := payload["issues"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				issues = append(issues, s)
			}
		}
	}
	return strings.EqualFold(outcome, "pass"), issues
}

// =============================================================================
// Event Stream
// =============================================================================

// chanStream is the channel-backed event stream handed to the consumer.
// The producer closes the channel when the run ends; a producer failure is
// stored before the close and surfaced instead of io.EOF.
type chanStream struct {
	events chan string
	err    error
}

var _ pipeline.EventStream = (*chanStream)(nil)

// emit pushes one raw event, reporting false if the context ended first.
func (s *chanStream) emit(ctx context.Context, raw string) bool {
	select {
	case s.events <- raw:
		return true
	case <-ctx.Done():
		return false
	}
}

// fail records the producer error surfaced after the channel closes.
func (s *chanStream) fail(err error) {
	if err != nil && s.err == nil {
		s.err = err
	}
}

// finish closes the stream. The close happens-after any fail call, so the
// consumer observes s.err safely.
func (s *chanStream) finish() {
	close(s.events)
}

// Next implements pipeline.EventStream.
func (s *chanStream) Next(ctx context.Context) (string, error) {
	select {
	case raw, ok := <-s.events:
		if !ok {
			if s.err != nil {
				return "", s.err
			}
			return "", io.EOF
		}
		return raw, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
