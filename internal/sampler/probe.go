package sampler

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/your-org/faceindex/internal/models"
)

// Metadata describes a video source as reported by ffprobe.
type Metadata struct {
	Duration float64
	FPS      float64
	Width    int
	Height   int
	// TotalFrames is an estimate when the container does not carry an
	// exact frame count.
	TotalFrames int
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe opens the video with ffprobe and returns its properties.
// Returns ErrSourceUnavailable when the source cannot be opened.
func Probe(ctx context.Context, path string) (*Metadata, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-hide_banner",
		"-loglevel", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: ffprobe %s: %v", models.ErrSourceUnavailable, path, err)
	}

	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe output: %v", models.ErrSourceUnavailable, err)
	}

	meta := &Metadata{}
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		meta.Duration = d
	}

	for _, st := range probe.Streams {
		if st.CodecType != "video" {
			continue
		}
		meta.Width = st.Width
		meta.Height = st.Height
		meta.FPS = parseFrameRate(st.RFrameRate)
		if n, err := strconv.Atoi(st.NbFrames); err == nil {
			meta.TotalFrames = n
		}
		break
	}

	if meta.Width == 0 || meta.Height == 0 {
		return nil, fmt.Errorf("%w: no video stream in %s", models.ErrSourceUnavailable, path)
	}
	if meta.TotalFrames == 0 && meta.FPS > 0 {
		meta.TotalFrames = int(meta.Duration * meta.FPS)
	}

	return meta, nil
}

// parseFrameRate converts an ffprobe rational like "30000/1001" to a float.
func parseFrameRate(rate string) float64 {
	parts := strings.SplitN(rate, "/", 2)
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den != 0 {
			return num / den
		}
		return 0
	}
	f, err := strconv.ParseFloat(rate, 64)
	if err != nil {
		return 0
	}
	return f
}
