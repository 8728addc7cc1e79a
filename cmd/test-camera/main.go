package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vzahanych/violence-watch/internal/classifier"
	"github.com/vzahanych/violence-watch/internal/config"
	"github.com/vzahanych/violence-watch/internal/logger"
	"github.com/vzahanych/violence-watch/internal/overlay"
	"github.com/vzahanych/violence-watch/internal/stream"
	"github.com/vzahanych/violence-watch/internal/video"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	count := flag.Int("count", 5, "Number of frames to classify (0 runs until interrupted)")
	interval := flag.Duration("interval", time.Second, "Delay between frames")
	out := flag.String("out", "", "Write the last annotated frame to this JPEG file")
	flag.Parse()

	fmt.Println("=== Camera & Classifier Test ===")
	fmt.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.LogConfig{
		Level:  "info",
		Format: "text",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	fmt.Printf("Camera URL: %s\n", cfg.Camera.URL)
	fmt.Printf("Classifier URL: %s\n", cfg.Classifier.ServiceURL)
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ffmpeg, err := video.NewFFmpegWrapper(cfg.Camera.FFmpegPath, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffmpeg not available: %v\n", err)
		os.Exit(1)
	}
	if v, err := ffmpeg.GetVersion(ctx); err == nil {
		fmt.Printf("✅ %s\n", v)
	}

	client := classifier.NewClient(classifier.ClientConfig{
		ServiceURL:  cfg.Classifier.ServiceURL,
		Timeout:     cfg.Classifier.Timeout,
		JPEGQuality: cfg.Stream.JPEGQuality,
	}, log)

	fmt.Println("Testing classifier connection...")
	if err := client.HealthCheck(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Classifier not reachable: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✅ Classifier is healthy")
	fmt.Println()

	encoder := stream.NewEncoder(cfg.Stream.JPEGQuality)
	var last []byte
	violent := 0

	for n := 1; *count == 0 || n <= *count; n++ {
		fmt.Printf("[Frame %d] Capturing frame...\n", n)

		data, err := ffmpeg.CaptureFrameJPEG(ctx, cfg.Camera.URL)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Printf("  ❌ Failed to capture frame: %v\n", err)
		} else if img, err := video.DecodeJPEG(data); err != nil {
			fmt.Printf("  ❌ Failed to decode frame: %v\n", err)
		} else {
			frame := video.NewFrame(img, uint64(n))
			start := time.Now()
			pred, err := client.Predict(ctx, frame)
			if err != nil {
				fmt.Printf("  ❌ Failed to classify: %v\n", err)
			} else {
				fmt.Printf("  label=%q score=%.2f (%v)\n", pred.Label, pred.Score, time.Since(start).Round(time.Millisecond))
				if classifier.MatchesLabel(pred.Label, cfg.Classifier.ViolenceLabel) {
					violent++
					overlay.DrawWarning(frame.Image)
				}
				if last, err = encoder.EncodeJPEG(frame.Image); err != nil {
					fmt.Printf("  ❌ Failed to encode frame: %v\n", err)
				}
			}
		}

		select {
		case <-ctx.Done():
		case <-time.After(*interval):
			continue
		}
		break
	}

	fmt.Println()
	fmt.Printf("Violent frames: %d\n", violent)

	if *out != "" && last != nil {
		if err := os.WriteFile(*out, last, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *out, err)
			os.Exit(1)
		}
		fmt.Printf("Last frame written to %s\n", *out)
	}
}
