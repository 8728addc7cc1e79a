package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/vzahanych/violence-watch/internal/logger"
	"github.com/vzahanych/violence-watch/internal/metrics"
	"github.com/vzahanych/violence-watch/internal/service"
	"github.com/vzahanych/violence-watch/internal/video"
)

// ErrStopped is returned by Subscribe once the pipeline is stopped
var ErrStopped = errors.New("stream: pipeline stopped")

// FrameProcessor classifies and annotates a frame in place
type FrameProcessor interface {
	ProcessFrame(ctx context.Context, frame *video.Frame) (bool, error)
}

// Pipeline runs one capture, classify and encode loop and fans the encoded
// frames out to viewers. The loop starts with the first viewer and is
// cancelled when the last one leaves. When the capture ends or a frame fails
// to process every viewer's channel is closed; the next viewer starts a new
// loop with a fresh capture.
type Pipeline struct {
	*service.ServiceBase

	opener     video.Opener
	url        string
	processor  FrameProcessor
	encoder    *Encoder
	bufferSize int

	mu      sync.Mutex
	baseCtx context.Context
	stopped bool
	viewers map[*Viewer]struct{}
	runID   uint64
	cancel  context.CancelFunc // set while the current run is live
	wg      sync.WaitGroup
}

// PipelineConfig contains pipeline settings
type PipelineConfig struct {
	URL          string
	JPEGQuality  int
	ViewerBuffer int
}

// NewPipeline creates a pipeline. It does nothing until Start and a first viewer.
func NewPipeline(opener video.Opener, processor FrameProcessor, cfg PipelineConfig, log *logger.Logger) *Pipeline {
	if cfg.ViewerBuffer < 1 {
		cfg.ViewerBuffer = 1
	}
	return &Pipeline{
		ServiceBase: service.NewServiceBase("stream-pipeline", log),
		opener:      opener,
		url:         cfg.URL,
		processor:   processor,
		encoder:     NewEncoder(cfg.JPEGQuality),
		bufferSize:  cfg.ViewerBuffer,
		viewers:     make(map[*Viewer]struct{}),
	}
}

// Viewer receives encoded JPEG frames on C in capture order. C is closed
// when the run ends or the viewer is closed.
type Viewer struct {
	C <-chan []byte

	ch       chan []byte
	pipeline *Pipeline
	run      uint64
}

// Close detaches the viewer. It is safe to call more than once.
func (v *Viewer) Close() {
	v.pipeline.unsubscribe(v)
}

// Start arms the pipeline. Frames are only captured while someone watches.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseCtx = ctx
	p.stopped = false
	p.LogInfo("Stream pipeline ready", "url", p.url, "viewer_buffer", p.bufferSize)
	return nil
}

// Stop cancels the running loop, closes every viewer and waits for capture to be released
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.detachLocked()
	for v := range p.viewers {
		p.removeLocked(v)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline did not stop: %w", ctx.Err())
	}
}

// Subscribe attaches a new viewer, starting the loop if it is not running
func (p *Pipeline) Subscribe() (*Viewer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.baseCtx == nil {
		return nil, ErrStopped
	}

	if p.cancel == nil {
		p.startRunLocked()
	}

	ch := make(chan []byte, p.bufferSize)
	v := &Viewer{C: ch, ch: ch, pipeline: p, run: p.runID}
	p.viewers[v] = struct{}{}
	metrics.ActiveViewers.Inc()

	p.LogDebug("Viewer attached", "viewers", len(p.viewers), "run", p.runID)
	return v, nil
}

// Viewers returns the number of attached viewers
func (p *Pipeline) Viewers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.viewers)
}

// Running reports whether a capture loop is live
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Pipeline) startRunLocked() {
	p.runID++
	ctx, cancel := context.WithCancel(p.baseCtx)
	p.cancel = cancel

	run := p.runID
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		reason := p.run(ctx, run)
		p.finishRun(run, reason)
	}()

	p.PublishEvent(service.EventTypePipelineStarted, map[string]interface{}{
		"run": run,
		"url": p.url,
	})
}

// detachLocked cancels the live run so the next viewer starts a new one
func (p *Pipeline) detachLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *Pipeline) unsubscribe(v *Viewer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.viewers[v]; !ok {
		return
	}
	p.removeLocked(v)
	p.LogDebug("Viewer detached", "viewers", len(p.viewers))

	if len(p.viewers) == 0 && v.run == p.runID {
		p.LogInfo("Last viewer left, stopping capture", "run", p.runID)
		p.detachLocked()
	}
}

func (p *Pipeline) removeLocked(v *Viewer) {
	delete(p.viewers, v)
	close(v.ch)
	metrics.ActiveViewers.Dec()
}

// run drives one capture until it ends and returns why it ended
func (p *Pipeline) run(ctx context.Context, run uint64) string {
	log := p.Logger().ForRun(run)

	src, err := p.opener.Open(ctx, p.url)
	if err != nil {
		log.Error("Failed to open camera", logger.KeyError, err, "url", p.url)
		return "open_failed"
	}
	// retire before Close: releasing the camera can be slow and viewers
	// arriving meanwhile must start a new run, not join this one
	defer func() {
		p.retire(run)
		if err := src.Close(); err != nil {
			log.Debug("Camera close failed", logger.KeyError, err)
		}
	}()

	for {
		frame, err := src.Read(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return "cancelled"
			case errors.Is(err, io.EOF):
				log.Info("Camera stream ended")
				return "eof"
			default:
				log.Error("Camera read failed", logger.KeyError, err)
				return "read_failed"
			}
		}

		if _, err := p.processor.ProcessFrame(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return "cancelled"
			}
			log.Error("Frame processing failed", logger.KeyError, err, "seq", frame.Seq)
			return "process_failed"
		}

		data, err := p.encoder.EncodeJPEG(frame.Image)
		if err != nil {
			log.Error("Frame encoding failed", logger.KeyError, err, "seq", frame.Seq)
			return "encode_failed"
		}

		p.broadcast(run, data)
	}
}

// broadcast hands data to every viewer of run, dropping the oldest queued
// frame for viewers that are behind
func (p *Pipeline) broadcast(run uint64, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for v := range p.viewers {
		if v.run != run {
			continue
		}
		select {
		case v.ch <- data:
			continue
		default:
		}
		select {
		case <-v.ch:
			metrics.FramesDroppedTotal.Inc()
		default:
		}
		select {
		case v.ch <- data:
		default:
		}
	}
}

// retire closes the viewers still attached to run and frees the slot so the
// next Subscribe starts a fresh run. It is safe to call more than once.
func (p *Pipeline) retire(run uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for v := range p.viewers {
		if v.run == run {
			p.removeLocked(v)
		}
	}
	if p.runID == run {
		p.cancel = nil
	}
}

// finishRun retires run and records why it ended
func (p *Pipeline) finishRun(run uint64, reason string) {
	p.retire(run)

	metrics.PipelineRunsTotal.WithLabelValues(reason).Inc()
	p.LogDebug("Pipeline run finished", "run", run, "reason", reason)
	p.PublishEvent(service.EventTypePipelineStopped, map[string]interface{}{
		"run":    run,
		"reason": reason,
	})
}
