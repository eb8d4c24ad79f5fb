package mediafile

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	// Register decoders for the convertible formats x/image covers.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// convertedJPEGQuality is the encoder quality for converted images. 90 keeps
// descriptions accurate without re-uploading near-lossless payloads.
const convertedJPEGQuality = 90

// Convert produces a JPEG copy of a convertible image under outDir and
// returns its path. TIFF and BMP are decoded in pure Go (golang.org/x/image);
// HEIC/HEIF go through ffmpeg, which is the designated external codec for
// formats the Go ecosystem cannot decode. Conversion is idempotent: an
// existing output file is reused.
func Convert(ctx context.Context, path, outDir string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !IsConvertible(ext) {
		return "", fmt.Errorf("not a convertible format: %s", path)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	outPath := filepath.Join(outDir, base+".jpg")

	if _, err := os.Stat(outPath); err == nil {
		log.Debug().Str("path", outPath).Msg("Converted file already exists, skipping")
		return outPath, nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create conversion directory: %w", err)
	}

	switch ext {
	case ".heic", ".heif":
		if err := convertWithFFmpeg(ctx, path, outPath); err != nil {
			return "", err
		}
	default:
		if err := convertPureGo(path, outPath); err != nil {
			return "", err
		}
	}

	log.Info().
		Str("from", filepath.Base(path)).
		Str("to", filepath.Base(outPath)).
		Msg("Converted image")
	return outPath, nil
}

// convertPureGo decodes with the registered x/image decoders and re-encodes
// as JPEG.
func convertPureGo(path, outPath string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer in.Close()

	img, format, err := image.Decode(in)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	log.Debug().Str("path", path).Str("format", format).Msg("Decoded image for conversion")

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: convertedJPEGQuality}); err != nil {
		os.Remove(outPath)
		return fmt.Errorf("failed to encode JPEG %s: %w", outPath, err)
	}
	return nil
}

// convertWithFFmpeg shells out to ffmpeg for formats without a pure Go
// decoder (HEIC/HEIF).
func convertWithFFmpeg(ctx context.Context, path, outPath string) error {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return fmt.Errorf("ffmpeg not found: HEIC conversion requires ffmpeg: %w", err)
	}

	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-i", path,
		"-qscale:v", "2",
		"-y", outPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg conversion failed for %s: %w\nOutput: %s", path, err, string(output))
	}
	return nil
}
