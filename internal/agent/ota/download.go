package ota

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/otaagent/internal/agent/core"
	"github.com/autopeer-io/otaagent/internal/pkg/metrics"
	"github.com/autopeer-io/otaagent/pkg/log"
)

const (
	DefaultChunkSize    = 128
	DefaultProgressStep = 5
)

// ProgressFunc receives the running byte count each time progress crosses a step.
type ProgressFunc func(written, total int64)

// Downloader drains a response stream into a flash sink in bounded chunks.
type Downloader struct {
	chunkSize    int
	idleTimeout  time.Duration
	progressStep int
	clock        clock.Clock
	yielder      Yielder
	logger       log.Logger
}

// DownloaderConfig configures a Downloader. IdleTimeout is required.
type DownloaderConfig struct {
	ChunkSize    int
	IdleTimeout  time.Duration
	ProgressStep int
	Clock        clock.Clock
	Yielder      Yielder
	Logger       log.Logger
}

func NewDownloader(cfg DownloaderConfig) (*Downloader, error) {
	if cfg.IdleTimeout <= 0 {
		return nil, errors.New("idle timeout must be greater than zero")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ProgressStep <= 0 {
		cfg.ProgressStep = DefaultProgressStep
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Yielder == nil {
		cfg.Yielder = NewClockYielder(cfg.Clock, DefaultPollInterval)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	return &Downloader{
		chunkSize:    cfg.ChunkSize,
		idleTimeout:  cfg.IdleTimeout,
		progressStep: cfg.ProgressStep,
		clock:        cfg.Clock,
		yielder:      cfg.Yielder,
		logger:       cfg.Logger,
	}, nil
}

// Download writes exactly ContentLength bytes of resp into sink and finalizes it.
//
// The sink receives at most the declared length and End is called once, only after
// every byte was written. Failures before End abort the sink session.
func (d *Downloader) Download(ctx context.Context, resp core.Response, sink core.FlashSink, progress ProgressFunc) (int64, error) {
	total := resp.ContentLength()
	if total <= 0 {
		return 0, ErrEmptyOrUnknownSize
	}

	if err := sink.Begin(total); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInsufficientSpace, err)
	}

	stream := resp.Stream()
	buf := make([]byte, d.chunkSize)

	var written int64
	lastReported := -d.progressStep
	lastActivity := d.clock.Now()

	for written < total {
		if err := ctx.Err(); err != nil {
			return written, d.abort(sink, err)
		}

		avail, err := stream.Available()
		if err != nil {
			return written, d.abort(sink, fmt.Errorf("%w after %d of %d bytes: %w", ErrStreamClosed, written, total, err))
		}

		var n int
		if avail > 0 {
			want := min(int64(len(buf)), int64(avail), total-written)
			n, err = stream.Read(buf[:want])
			if n > 0 {
				w, werr := sink.Write(buf[:n])
				written += int64(w)
				metrics.BytesWrittenTotal.Add(float64(w))
				if werr != nil {
					return written, d.abort(sink, fmt.Errorf("%w at offset %d: %w", ErrWriteFailed, written, werr))
				}
				if w != n {
					return written, d.abort(sink, fmt.Errorf("%w: short write of %d/%d bytes at offset %d", ErrWriteFailed, w, n, written))
				}
				lastActivity = d.clock.Now()
			}
			if err != nil && (!errors.Is(err, io.EOF) || written < total) {
				return written, d.abort(sink, fmt.Errorf("%w after %d of %d bytes: %w", ErrStreamClosed, written, total, err))
			}
		}

		if n > 0 {
			pct := int(written * 100 / total)
			if pct >= lastReported+d.progressStep || written == total {
				lastReported = pct
				d.logger.Debug("Update progress", "percent", pct, "written", written, "total", total)
				if progress != nil {
					progress(written, total)
				}
			}
			continue
		}

		if idle := d.clock.Since(lastActivity); idle >= d.idleTimeout {
			return written, d.abort(sink, fmt.Errorf("%w: stalled for %s at %d of %d bytes", ErrIdleTimeout, idle, written, total))
		}
		if err := d.yielder.Yield(ctx); err != nil {
			return written, d.abort(sink, err)
		}
	}

	if err := sink.End(); err != nil {
		d.logger.Error(err, "Update finalization failed", "written", written)
		return written, fmt.Errorf("%w: %w", ErrFinalizeFailed, err)
	}

	d.logger.Info("Update completed", "bytes", written)
	return written, nil
}

func (d *Downloader) abort(sink core.FlashSink, cause error) error {
	if err := sink.Abort(); err != nil {
		d.logger.Error(err, "Failed to abort flash session")
	}
	return cause
}
