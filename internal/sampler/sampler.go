package sampler

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os/exec"

	"github.com/your-org/faceindex/internal/models"
)

// Frame is one sampled video frame, already cropped to the region of
// interest. Index and Timestamp refer to the original source.
type Frame struct {
	Index     int
	Timestamp float64
	Image     image.Image
}

// FrameFunc receives each sampled frame in order. Returning an error aborts
// the run.
type FrameFunc func(f Frame) error

// Sampler extracts every Nth frame of a video via ffmpeg, cropped to a
// region of interest. The sequence is not restartable: a new run reopens
// the source from the start.
type Sampler struct {
	stride int
}

func New(stride int) *Sampler {
	if stride < 1 {
		stride = 1
	}
	return &Sampler{stride: stride}
}

func (s *Sampler) Stride() int {
	return s.stride
}

// Run opens the source and streams sampled frames to fn until the source is
// exhausted or the context is cancelled. The ROI is clamped to the frame
// bounds before cropping, so cropping never fails. Undecodable frames are
// skipped; their count is returned. A source that cannot be opened yields
// ErrSourceUnavailable.
func (s *Sampler) Run(ctx context.Context, path string, meta *Metadata, roi models.Rect, fn FrameFunc) (skipped int, err error) {
	roi = roi.ClampTo(meta.Width, meta.Height)

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-i", path,
		"-vf", fmt.Sprintf(`select=not(mod(n\,%d))`, s.stride),
		"-vsync", "vfr",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: start ffmpeg: %v", models.ErrSourceUnavailable, err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	sampleIdx := 0
	err = readJPEGFrames(ctx, stdout, func(frameData []byte) error {
		frameIndex := sampleIdx * s.stride
		sampleIdx++

		img, decErr := jpeg.Decode(bytes.NewReader(frameData))
		if decErr != nil {
			skipped++
			slog.Warn("skipping undecodable frame", "frame", frameIndex, "error", decErr)
			return nil
		}

		var timestamp float64
		if meta.FPS > 0 {
			timestamp = float64(frameIndex) / meta.FPS
		}

		return fn(Frame{
			Index:     frameIndex,
			Timestamp: timestamp,
			Image:     cropROI(img, roi),
		})
	})
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		if ctx.Err() != nil {
			return skipped, ctx.Err()
		}
		return skipped, err
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return skipped, ctx.Err()
		}
		if sampleIdx == 0 {
			return skipped, fmt.Errorf("%w: ffmpeg: %v", models.ErrSourceUnavailable, err)
		}
		// Source ended with a decoder complaint after producing frames.
		slog.Warn("ffmpeg exited with error after producing frames", "error", err, "frames", sampleIdx)
	}

	return skipped, nil
}

// readJPEGFrames reads a stream of concatenated JPEG images from an
// image2pipe ffmpeg run and invokes cb for each complete frame.
func readJPEGFrames(ctx context.Context, r io.Reader, cb func(frameData []byte) error) error {
	reader := bufio.NewReaderSize(r, 512*1024)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Find JPEG start marker: FF D8
		if err := findJPEGStart(reader); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		frameData, err := readUntilJPEGEnd(reader)
		if err != nil {
			if err == io.EOF {
				return nil // stream ended mid-frame; treat as normal end
			}
			return err
		}

		if len(frameData) > 0 {
			if err := cb(frameData); err != nil {
				return err
			}
		}
	}
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		// Safety: max 10MB per frame
		if len(data) > 10*1024*1024 {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}

// cropROI extracts the (already clamped) region of interest from a frame.
func cropROI(img image.Image, roi models.Rect) image.Image {
	bounds := img.Bounds()

	x1 := bounds.Min.X + roi.X
	y1 := bounds.Min.Y + roi.Y
	x2 := x1 + roi.W
	y2 := y1 + roi.H
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}

	w := x2 - x1
	h := y2 - y1
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}

	crop := image.NewRGBA(image.Rect(0, 0, w, h))
	for cy := 0; cy < h; cy++ {
		for cx := 0; cx < w; cx++ {
			crop.Set(cx, cy, img.At(x1+cx, y1+cy))
		}
	}
	return crop
}
