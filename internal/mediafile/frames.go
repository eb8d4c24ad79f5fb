package mediafile

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultFrameInterval is the default seconds between extracted frames.
const DefaultFrameInterval = 5

// ExtractFrames extracts frames from a video at the given interval (one
// frame every interval seconds) into a subdirectory of outDir named after
// the video. Extraction is idempotent: if frames already exist for the
// video, they are reused and ffmpeg is not invoked.
//
// Returns the ordered list of frame paths.
func ExtractFrames(ctx context.Context, videoPath, outDir string, interval int) ([]string, error) {
	if _, err := os.Stat(videoPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("video file does not exist: %s", videoPath)
	}
	if interval <= 0 {
		interval = DefaultFrameInterval
	}

	videoName := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	frameDir := filepath.Join(outDir, videoName)

	// Reuse existing frames rather than re-extracting.
	if existing, err := collectFrames(frameDir); err == nil && len(existing) > 0 {
		log.Info().
			Str("video", filepath.Base(videoPath)).
			Int("frames", len(existing)).
			Str("dir", frameDir).
			Msg("Frames already exist, skipping extraction")
		return existing, nil
	}

	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: frame extraction requires ffmpeg: %w", err)
	}

	if err := os.MkdirAll(frameDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory %s: %w", frameDir, err)
	}

	log.Info().
		Str("video", filepath.Base(videoPath)).
		Str("dir", frameDir).
		Int("interval_s", interval).
		Msg("Extracting frames")

	framePattern := filepath.Join(frameDir, "frame_%04d.jpg")
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-i", videoPath,
		"-vf", fmt.Sprintf("fps=1/%d", interval),
		"-qscale:v", "2",
		"-y", framePattern,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg failed for %s: %w\nOutput: %s", videoPath, err, string(output))
	}

	frames, err := collectFrames(frameDir)
	if err != nil {
		return nil, fmt.Errorf("failed to collect frame paths: %w", err)
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames extracted from video: %s", filepath.Base(videoPath))
	}

	log.Info().
		Str("video", filepath.Base(videoPath)).
		Int("frames", len(frames)).
		Msg("Frame extraction complete")
	return frames, nil
}

// ExistingFrames returns the frames previously extracted for a video under
// outDir, without invoking ffmpeg. Returns an empty slice when none exist.
func ExistingFrames(videoPath, outDir string) []string {
	videoName := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	frames, err := collectFrames(filepath.Join(outDir, videoName))
	if err != nil {
		return nil
	}
	return frames
}

// collectFrames returns the sorted JPEG frame paths in dir.
func collectFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var frames []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".jpg") {
			frames = append(frames, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(frames)
	return frames, nil
}
