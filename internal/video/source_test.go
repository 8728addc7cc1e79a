package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vzahanych/violence-watch/internal/logger"
)

func encodeTestJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestStreamSource_ReadsFramesThenEOF(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(encodeTestJPEG(t, 32, 24, color.White))
	stream.Write(encodeTestJPEG(t, 32, 24, color.Black))

	src := newStreamSource(&stream, nil, nil, logger.NewNopLogger())
	defer src.Close()

	ctx := context.Background()

	f1, err := src.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), f1.Seq)
	assert.Equal(t, 32, f1.Image.Bounds().Dx())
	assert.Equal(t, 24, f1.Image.Bounds().Dy())

	f2, err := src.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f2.Seq)

	_, err = src.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)

	// the sequence stays over
	_, err = src.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamSource_WaitErrorEndsStream(t *testing.T) {
	exitErr := errors.New("ffmpeg exited: exit status 1")
	src := newStreamSource(bytes.NewReader(nil), nil, func() error { return exitErr }, logger.NewNopLogger())
	defer src.Close()

	_, err := src.Read(context.Background())
	assert.ErrorIs(t, err, exitErr)
}

func TestStreamSource_CorruptFrame(t *testing.T) {
	src := newStreamSource(bytes.NewReader(fakeJPEG("not really a jpeg")), nil, nil, logger.NewNopLogger())
	defer src.Close()

	_, err := src.Read(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode JPEG")
}

func TestStreamSource_CloseUnblocksRead(t *testing.T) {
	pr, pw := io.Pipe()
	stopped := make(chan struct{})
	src := newStreamSource(pr, func() {
		close(stopped)
		_ = pw.Close()
	}, nil, logger.NewNopLogger())

	errCh := make(chan error, 1)
	go func() {
		_, err := src.Read(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSourceClosed)
	case <-time.After(time.Second):
		t.Fatal("Read did not return after Close")
	}

	select {
	case <-stopped:
	default:
		t.Error("Close should stop the producer")
	}

	_, err := src.Read(context.Background())
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestStreamSource_ReadHonorsContext(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	src := newStreamSource(pr, nil, nil, logger.NewNopLogger())
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := src.Read(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestToRGBA_ConvertsYCbCr(t *testing.T) {
	img, err := jpeg.Decode(bytes.NewReader(encodeTestJPEG(t, 8, 8, color.White)))
	require.NoError(t, err)

	rgba := ToRGBA(img)
	assert.Equal(t, 8, rgba.Bounds().Dx())
	r, g, b, _ := rgba.At(4, 4).RGBA()
	assert.Greater(t, r, uint32(0xf000))
	assert.Greater(t, g, uint32(0xf000))
	assert.Greater(t, b, uint32(0xf000))
}

func TestStreamArgs(t *testing.T) {
	args := streamArgs("rtsp://cam/stream")
	assert.Contains(t, args, "-rtsp_transport")
	assert.Contains(t, args, "image2pipe")
	assert.Equal(t, "-", args[len(args)-1])

	args = streamArgs("http://192.168.10.200:4747/video")
	assert.NotContains(t, args, "-rtsp_transport")
}

func TestNewFFmpegWrapper(t *testing.T) {
	ffmpeg, err := NewFFmpegWrapper("", logger.NewNopLogger())
	if err != nil {
		t.Skipf("FFmpeg not available, skipping test: %v", err)
	}
	assert.NotEmpty(t, ffmpeg.Path())

	version, err := ffmpeg.GetVersion(context.Background())
	require.NoError(t, err)
	assert.Contains(t, version, "ffmpeg")
}

func TestNewFFmpegWrapper_BadPath(t *testing.T) {
	_, err := NewFFmpegWrapper("/nonexistent/ffmpeg", logger.NewNopLogger())
	assert.Error(t, err)
}
