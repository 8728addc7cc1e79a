package video

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vzahanych/violence-watch/internal/logger"
)

// ErrSourceClosed is returned by Read after Close
var ErrSourceClosed = errors.New("video: source closed")

// maxFrameSize bounds a single JPEG in the capture stream
const maxFrameSize = 16 << 20

// Source is an open camera capture. Read blocks until the next frame is
// available and returns io.EOF when the stream ends. Once Read returns an
// error the sequence is over.
type Source interface {
	Read(ctx context.Context) (*Frame, error)
	Close() error
}

// Opener opens capture sources for a camera URL
type Opener interface {
	Open(ctx context.Context, url string) (Source, error)
}

// FFmpegOpener opens sources backed by an ffmpeg subprocess
type FFmpegOpener struct {
	ffmpeg *FFmpegWrapper
	logger *logger.Logger
}

// NewFFmpegOpener creates an opener that runs ffmpeg for every capture
func NewFFmpegOpener(ffmpeg *FFmpegWrapper, log *logger.Logger) *FFmpegOpener {
	return &FFmpegOpener{
		ffmpeg: ffmpeg,
		logger: log.Named("capture"),
	}
}

// Open starts ffmpeg reading url and returns a source over its MJPEG output.
// The subprocess lives until Close is called or ctx is cancelled.
func (o *FFmpegOpener) Open(ctx context.Context, url string) (Source, error) {
	procCtx, cancel := context.WithCancel(ctx)
	cmd := o.ffmpeg.BuildCommand(procCtx, streamArgs(url))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := newTailBuffer(4096)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	o.logger.Info("Capture started", "url", url, "pid", cmd.Process.Pid)

	wait := func() error {
		err := cmd.Wait()
		if err != nil && procCtx.Err() == nil {
			return fmt.Errorf("ffmpeg exited: %w (%s)", err, stderr.String())
		}
		return nil
	}

	return newStreamSource(stdout, cancel, wait, o.logger), nil
}

type chunk struct {
	data []byte
	err  error
}

// streamSource decodes frames from a reader of concatenated JPEGs
type streamSource struct {
	logger    *logger.Logger
	frames    chan chunk
	stop      func()
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	seq       uint64
	finished  bool
}

// newStreamSource starts reading r in the background. stop releases the
// producer and wait reports how it ended; either may be nil.
func newStreamSource(r io.Reader, stop func(), wait func() error, log *logger.Logger) *streamSource {
	s := &streamSource{
		logger: log,
		frames: make(chan chunk, 1),
		stop:   stop,
		done:   make(chan struct{}),
	}
	go s.readLoop(r, wait)
	return s
}

func (s *streamSource) readLoop(r io.Reader, wait func() error) {
	defer close(s.frames)

	err := s.scan(r)
	if err != nil && s.stop != nil {
		s.stop()
	}
	if wait != nil {
		if werr := wait(); werr != nil && err == nil {
			err = werr
		}
	}
	if err == nil {
		err = io.EOF
	}

	select {
	case s.frames <- chunk{err: err}:
	case <-s.done:
	}
}

// scan forwards every complete JPEG in r. It returns nil at end of input.
func (s *streamSource) scan(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 512*1024), maxFrameSize)
	scanner.Split(ScanJPEG)

	for scanner.Scan() {
		data := make([]byte, len(scanner.Bytes()))
		copy(data, scanner.Bytes())
		select {
		case s.frames <- chunk{data: data}:
		case <-s.done:
			return ErrSourceClosed
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read capture stream: %w", err)
	}
	return nil
}

// Read returns the next decoded frame
func (s *streamSource) Read(ctx context.Context) (*Frame, error) {
	if s.closed.Load() {
		return nil, ErrSourceClosed
	}
	if s.finished {
		return nil, io.EOF
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSourceClosed
	case c, ok := <-s.frames:
		if !ok {
			s.finished = true
			return nil, io.EOF
		}
		if c.err != nil {
			s.finished = true
			return nil, c.err
		}
		img, err := DecodeJPEG(c.data)
		if err != nil {
			s.finished = true
			return nil, err
		}
		s.seq++
		return &Frame{Image: img, Seq: s.seq, Timestamp: time.Now()}, nil
	}
}

// Close stops the producer. It is safe to call more than once.
func (s *streamSource) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
		s.logger.Debug("Capture closed", "frames", s.seq)
	})
	return nil
}

// tailBuffer keeps the last n bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	n   int
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.n; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
