package mediafile

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// FactSheet is the timestamp/GPS/camera facts extracted from a media file,
// formatted for inclusion in a description prompt so the model can anchor
// the scene in place and time.
type FactSheet struct {
	Latitude  float64
	Longitude float64
	HasGPS    bool

	Taken   time.Time
	HasDate bool

	CameraMake  string
	CameraModel string

	// DurationSeconds is set for videos.
	DurationSeconds float64
}

// PromptContext formats the fact sheet as a text block for prompts. Returns
// an empty string when there are no facts worth stating.
func (f *FactSheet) PromptContext() string {
	if f == nil || (!f.HasGPS && !f.HasDate && f.CameraMake == "" && f.CameraModel == "") {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Known facts about this media file:\n")
	if f.HasDate {
		sb.WriteString(fmt.Sprintf("- Taken: %s\n", f.Taken.Format("Monday, January 2, 2006 at 3:04 PM")))
	}
	if f.HasGPS {
		sb.WriteString(fmt.Sprintf("- GPS: %.6f, %.6f\n", f.Latitude, f.Longitude))
	}
	if f.CameraMake != "" || f.CameraModel != "" {
		sb.WriteString(fmt.Sprintf("- Camera: %s %s\n", f.CameraMake, f.CameraModel))
	}
	return sb.String()
}

// ImageFacts extracts EXIF facts from an image using imagemeta (pure Go;
// handles JPEG, HEIC, TIFF, and degrades gracefully for PNG/WebP). Files
// without metadata return an empty fact sheet, not an error.
func ImageFacts(path string) (*FactSheet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	exifData, err := imagemeta.Decode(file)
	if err != nil {
		// Screenshots, extracted frames, and converted files routinely
		// carry no EXIF block.
		log.Debug().Str("path", path).Err(err).Msg("No EXIF metadata")
		return &FactSheet{}, nil
	}

	facts := &FactSheet{}
	gps := exifData.GPS
	if gps.Latitude() != 0 || gps.Longitude() != 0 {
		facts.Latitude = gps.Latitude()
		facts.Longitude = gps.Longitude()
		facts.HasGPS = true
	}

	// Date fallback chain: DateTimeOriginal > CreateDate > ModifyDate.
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		facts.Taken = exifData.DateTimeOriginal()
		facts.HasDate = true
	case !exifData.CreateDate().IsZero():
		facts.Taken = exifData.CreateDate()
		facts.HasDate = true
	case !exifData.ModifyDate().IsZero():
		facts.Taken = exifData.ModifyDate()
		facts.HasDate = true
	}

	facts.CameraMake = strings.TrimSpace(exifData.Make)
	facts.CameraModel = strings.TrimSpace(exifData.Model)
	return facts, nil
}

// ffprobeOutput is the subset of ffprobe's JSON output we read.
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		Tags     struct {
			CreationTime string `json:"creation_time"`
			Location     string `json:"location"`
		} `json:"tags"`
	} `json:"format"`
}

// VideoFacts extracts facts from a video using ffprobe. Pure Go video
// metadata libraries are unreliable across containers; ffprobe's unified
// JSON output handles all of them.
func VideoFacts(path string) (*FactSheet, error) {
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}

	cmd := exec.Command(ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	facts := &FactSheet{}
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		facts.DurationSeconds = d
	}
	if ct := probe.Format.Tags.CreationTime; ct != "" {
		if t, err := time.Parse(time.RFC3339, ct); err == nil {
			facts.Taken = t
			facts.HasDate = true
		}
	}
	if loc := probe.Format.Tags.Location; loc != "" {
		if lat, lon, ok := parseISO6709(loc); ok {
			facts.Latitude = lat
			facts.Longitude = lon
			facts.HasGPS = true
		}
	}
	return facts, nil
}

// parseISO6709 parses the "+37.7749-122.4194/" location form videos carry.
func parseISO6709(loc string) (lat, lon float64, ok bool) {
	loc = strings.TrimSuffix(loc, "/")
	// Find the second sign, which separates latitude from longitude.
	for i := 1; i < len(loc); i++ {
		if loc[i] == '+' || loc[i] == '-' {
			latV, err1 := strconv.ParseFloat(loc[:i], 64)
			lonV, err2 := strconv.ParseFloat(loc[i:], 64)
			if err1 == nil && err2 == nil {
				return latV, lonV, true
			}
			return 0, 0, false
		}
	}
	return 0, 0, false
}
