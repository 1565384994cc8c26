// Package app wires the waveforge subsystems into a running transcoding
// service.
//
// The App struct owns the full lifecycle: New builds the pipeline from the
// config, Run executes the input loop, silence filler, and HTTP server until
// the input ends or the context is cancelled, and Shutdown tears everything
// down in order.
//
// For testing, inject readers, writers, and a custom engine via functional
// options (WithInput, WithOutput, WithEngine). When an option is not provided,
// New uses stdin, stdout, and the default engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/waveforge/internal/config"
	"github.com/MrWong99/waveforge/internal/health"
	"github.com/MrWong99/waveforge/internal/observe"
	"github.com/MrWong99/waveforge/pkg/transcode"
	"github.com/MrWong99/waveforge/pkg/transcode/engine"
)

// httpShutdownTimeout bounds the graceful HTTP server shutdown.
const httpShutdownTimeout = 5 * time.Second

// App owns the pipeline and its surrounding loops: PCM input, encoded output,
// silence filler, and the metrics/health HTTP server.
type App struct {
	cfg      *config.Config
	pipeline *transcode.Pipeline
	eng      transcode.Engine

	in  io.Reader
	out io.Writer

	// lastPush is the UnixNano time of the last accepted push, real or
	// silence. The filler loop compares against it to detect input stalls.
	lastPush atomic.Int64

	// fatal receives the pipeline's terminal error, if any.
	fatal chan error

	outMu    sync.Mutex
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithInput injects the PCM input stream instead of stdin.
func WithInput(r io.Reader) Option {
	return func(a *App) { a.in = r }
}

// WithOutput injects the encoded output stream instead of stdout.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithEngine injects a pipeline engine instead of the default one.
func WithEngine(eng transcode.Engine) Option {
	return func(a *App) { a.eng = eng }
}

// New builds the transcoding pipeline from cfg and prepares the app for Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:   cfg,
		in:    os.Stdin,
		out:   os.Stdout,
		eng:   engine.Default{},
		fatal: make(chan error, 1),
	}
	for _, o := range opts {
		o(a)
	}

	streamCfg := transcode.StreamConfig{
		SampleRate: cfg.Stream.SampleRate,
		Channels:   cfg.Stream.Channels,
		BitDepth:   cfg.Stream.BitDepth,
		Format:     transcode.FormatS16LE,
	}
	encCfg := transcode.EncoderConfig{
		Codec:      cfg.Encoder.Codec,
		Bitrate:    cfg.Encoder.Bitrate,
		Quality:    cfg.Encoder.Quality,
		VBR:        cfg.Encoder.VBR,
		VBRQuality: cfg.Encoder.VBRQuality,
	}

	p, err := transcode.New(streamCfg, a.eng,
		transcode.WithEncoderConfig(encCfg),
		transcode.WithErrorHandler(func(err error) {
			select {
			case a.fatal <- err:
			default:
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("app: build pipeline: %w", err)
	}
	a.pipeline = p
	return a, nil
}

// Pipeline returns the app's pipeline (for health checks and tests).
func (a *App) Pipeline() *transcode.Pipeline { return a.pipeline }

// Run starts the pipeline and drives it until the input reaches EOF, the
// context is cancelled, or the pipeline fails terminally. Encoded units
// already produced when the input ends are still written before Run returns.
func (a *App) Run(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "app.run")
	defer span.End()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.pipeline.Start(a.writeUnit); err != nil {
		return fmt.Errorf("app: start pipeline: %w", err)
	}
	a.lastPush.Store(time.Now().UnixNano())
	observe.Logger(ctx).Info("app: pipeline running",
		"sample_rate", a.cfg.Stream.SampleRate,
		"channels", a.cfg.Stream.Channels,
		"codec", a.cfg.Encoder.Codec,
	)

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// Input EOF ends the whole run, not just this loop.
		defer cancel()
		return a.readLoop(gctx)
	})

	if a.cfg.Filler.Enabled {
		g.Go(func() error { return a.fillerLoop(gctx) })
	}

	if a.cfg.Server.ListenAddr != "" {
		g.Go(func() error { return a.serveHTTP(gctx) })
	}

	g.Go(func() error {
		var err error
		select {
		case ferr := <-a.fatal:
			err = fmt.Errorf("app: pipeline failed: %w", ferr)
		case <-gctx.Done():
		}
		// Unblock a read loop stuck in a blocking Read.
		if c, ok := a.in.(io.Closer); ok {
			_ = c.Close()
		}
		return err
	})

	err := g.Wait()

	// Drain the pipeline so everything pushed before the stop is delivered.
	if stopErr := a.pipeline.Stop(); stopErr != nil && err == nil {
		err = fmt.Errorf("app: stop pipeline: %w", stopErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown releases the pipeline. Safe to call more than once.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		_ = a.pipeline.Close()
		slog.Info("app: shut down", "pts", a.pipeline.PTS())
	})
}

// writeUnit is the pipeline delivery callback. It runs on the pipeline's
// consumer goroutine; the write is serialised so output chunks never
// interleave.
func (a *App) writeUnit(b []byte) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	if _, err := a.out.Write(b); err != nil {
		slog.Warn("app: writing encoded output", "err", err, "bytes", len(b))
	}
}

// readLoop reads fixed-size PCM chunks from the input and pushes them into
// the pipeline. A short final chunk is trimmed to sample alignment. Returns
// nil on EOF.
func (a *App) readLoop(ctx context.Context) error {
	sampleSize := a.cfg.Stream.Channels * (a.cfg.Stream.BitDepth / 8)
	buf := make([]byte, a.cfg.Stream.ChunkBytes)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := io.ReadFull(a.in, buf)
		if n > 0 {
			chunk := buf[:n-n%sampleSize]
			if pushErr := a.pipeline.PushPCM(chunk); pushErr != nil {
				if errors.Is(pushErr, transcode.ErrNotRunning) {
					return nil
				}
				return fmt.Errorf("app: push PCM: %w", pushErr)
			}
			a.lastPush.Store(time.Now().UnixNano())
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Info("app: input stream ended", "pts", a.pipeline.PTS())
				return nil
			}
			if ctx.Err() != nil {
				// The read was unblocked by the shutdown path closing the
				// input; report the cancellation, not the read error.
				return ctx.Err()
			}
			return fmt.Errorf("app: read input: %w", err)
		}
	}
}

// fillerLoop injects silence whenever the input stalls for longer than the
// configured threshold, keeping the timestamp counter and the encoder's
// output cadence alive during gaps.
func (a *App) fillerLoop(ctx context.Context) error {
	tick := time.NewTicker(a.cfg.Filler.Threshold)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}

		stalled := time.Since(time.Unix(0, a.lastPush.Load()))
		if stalled < a.cfg.Filler.Threshold {
			continue
		}
		if err := a.pipeline.PushSilence(a.cfg.Filler.Duration); err != nil {
			if errors.Is(err, transcode.ErrNotRunning) {
				return nil
			}
			slog.Warn("app: pushing silence filler", "err", err)
			continue
		}
		a.lastPush.Store(time.Now().UnixNano())
		slog.Debug("app: injected silence filler",
			"stalled", stalled,
			"duration", a.cfg.Filler.Duration,
		)
	}
}

// serveHTTP runs the metrics and health endpoints until ctx is cancelled.
func (a *App) serveHTTP(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	health.Register(mux, health.Pipeline("pipeline", a.pipeline.State))

	srv := &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("app: http server listening", "addr", a.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: http server: %w", err)
	}
	return nil
}
