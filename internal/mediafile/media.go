// Package mediafile provides media file classification, directory scanning,
// frame extraction, format conversion, and metadata fact sheets.
//
// Codec-heavy work is split between two providers: pure Go for images
// (imagemeta for EXIF, golang.org/x/image for decoding) and ffmpeg/ffprobe
// as an external tool for anything video-shaped, including HEIC decode.
package mediafile

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind classifies what the pipeline can do with a file.
type Kind int

const (
	// KindUnsupported is a file no stage can use.
	KindUnsupported Kind = iota

	// KindImage is natively describable (a format providers accept).
	KindImage

	// KindConvertible is an image that must pass the convert stage first
	// (HEIC, TIFF, BMP).
	KindConvertible

	// KindVideo must pass frame extraction first.
	KindVideo
)

// String returns the kind's display name.
func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindConvertible:
		return "convertible"
	case KindVideo:
		return "video"
	default:
		return "unsupported"
	}
}

// nativeImageExtensions are formats vision providers accept directly.
var nativeImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// convertibleExtensions are image formats that must be converted to JPEG
// before a provider will take them.
var convertibleExtensions = map[string]string{
	".heic": "image/heic",
	".heif": "image/heif",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
}

// videoExtensions are the supported video container formats.
var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
}

// Classify returns the pipeline kind for a file path, by extension.
func Classify(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case nativeImageExtensions[ext] != "":
		return KindImage
	case convertibleExtensions[ext] != "":
		return KindConvertible
	case videoExtensions[ext] != "":
		return KindVideo
	default:
		return KindUnsupported
	}
}

// MIMEType returns the MIME type for a supported file path.
func MIMEType(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if mime, ok := nativeImageExtensions[ext]; ok {
		return mime, nil
	}
	if mime, ok := convertibleExtensions[ext]; ok {
		return mime, nil
	}
	if mime, ok := videoExtensions[ext]; ok {
		return mime, nil
	}
	return "", fmt.Errorf("unsupported file type: %s", ext)
}

// IsImage reports whether ext (with leading dot) is a natively describable
// image extension.
func IsImage(ext string) bool {
	return nativeImageExtensions[strings.ToLower(ext)] != ""
}

// IsConvertible reports whether ext needs the convert stage.
func IsConvertible(ext string) bool {
	return convertibleExtensions[strings.ToLower(ext)] != ""
}

// IsVideo reports whether ext is a supported video extension.
func IsVideo(ext string) bool {
	return videoExtensions[strings.ToLower(ext)] != ""
}
