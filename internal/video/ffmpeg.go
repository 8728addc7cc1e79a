package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"os/exec"
	"strings"

	"github.com/vzahanych/violence-watch/internal/logger"
)

// FFmpegWrapper locates the ffmpeg binary and builds commands against it
type FFmpegWrapper struct {
	logger     *logger.Logger
	ffmpegPath string
}

// NewFFmpegWrapper creates a new FFmpeg wrapper. An empty path searches
// PATH and the usual install locations.
func NewFFmpegWrapper(path string, log *logger.Logger) (*FFmpegWrapper, error) {
	wrapper := &FFmpegWrapper{
		logger: log,
	}

	candidates := []string{"ffmpeg", "/usr/bin/ffmpeg", "/usr/local/bin/ffmpeg"}
	if path != "" {
		candidates = []string{path}
	}

	ffmpegPath, err := detectFFmpeg(candidates)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	wrapper.ffmpegPath = ffmpegPath

	log.Debug("FFmpeg located", "path", ffmpegPath)
	return wrapper, nil
}

// detectFFmpeg returns the first candidate that runs `-version` successfully
func detectFFmpeg(candidates []string) (string, error) {
	for _, path := range candidates {
		resolved, err := exec.LookPath(path)
		if err != nil {
			continue
		}
		if err := exec.Command(resolved, "-version").Run(); err == nil {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("tried %s", strings.Join(candidates, ", "))
}

// Path returns the resolved ffmpeg executable
func (f *FFmpegWrapper) Path() string {
	return f.ffmpegPath
}

// BuildCommand builds an FFmpeg command bound to ctx
func (f *FFmpegWrapper) BuildCommand(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, f.ffmpegPath, args...)
}

// GetVersion returns the first line of `ffmpeg -version`
func (f *FFmpegWrapper) GetVersion(ctx context.Context) (string, error) {
	output, err := f.BuildCommand(ctx, []string{"-version"}).Output()
	if err != nil {
		return "", fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	line, _, _ := strings.Cut(string(output), "\n")
	if line = strings.TrimSpace(line); line != "" {
		return line, nil
	}
	return "unknown", nil
}

// CaptureFrameJPEG grabs a single JPEG frame from input
func (f *FFmpegWrapper) CaptureFrameJPEG(ctx context.Context, input string) ([]byte, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	}

	var stdout, stderr bytes.Buffer
	cmd := f.BuildCommand(ctx, args)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg capture failed: %w (%s)", err, strings.TrimSpace(stderr.String()))
	}

	frameData := stdout.Bytes()
	if len(frameData) == 0 {
		return nil, fmt.Errorf("no frame data captured")
	}

	if _, _, err := image.Decode(bytes.NewReader(frameData)); err != nil {
		return nil, fmt.Errorf("invalid frame data: %w", err)
	}

	return frameData, nil
}

// streamArgs returns the arguments for a continuous MJPEG capture of input on stdout
func streamArgs(input string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
	}
	if strings.HasPrefix(input, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	return append(args,
		"-i", input,
		"-an",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"-",
	)
}
