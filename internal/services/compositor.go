package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lumivox/chapterreel/internal/models"
)

// ---------------------------------------------------------------------------
// Clip compositing: one still image + one narration clip -> one video clip.
//
// The still is scaled to cover the target resolution and center-cropped
// (never letterboxed), then animated with a slow zoom/pan whose range is
// scaled by the settings' motion-speed coefficient. Narration audio is the
// soundtrack and is authoritative for duration (-shortest). Non-empty
// subtitle text is burned in from a pre-generated ASS file.
// ---------------------------------------------------------------------------

// MotionEffect is the zoom/pan variant applied to a still image.
type MotionEffect string

const (
	EffectZoomIn  MotionEffect = "zoom_in"
	EffectZoomOut MotionEffect = "zoom_out"
	EffectPanDown MotionEffect = "pan_down"
	EffectPanUp   MotionEffect = "pan_up"
)

var allEffects = []MotionEffect{
	EffectZoomIn,
	EffectZoomOut,
	EffectPanDown,
	EffectPanUp,
}

// EffectForIndex picks the motion effect for a sentence. Deterministic by
// index so re-running a sentence produces the same clip regardless of which
// worker renders it or in what order clips complete.
func EffectForIndex(index int) MotionEffect {
	if index < 0 {
		index = -index
	}
	return allEffects[index%len(allEffects)]
}

// ComposeInput carries everything a single clip render needs. All paths are
// local scratch files prepared by the caller.
type ComposeInput struct {
	ImagePath       string
	AudioPath       string
	SubtitlePath    string // empty = no subtitle burn-in
	OutputPath      string
	AudioDurationMs int
	SentenceIndex   int
	Settings        models.GenerationSettings
}

// BuildComposeArgs maps a compose input to the full ffmpeg argument list.
// Pure function: no process execution, no filesystem access.
func BuildComposeArgs(in ComposeInput) []string {
	vf := buildMotionFilter(EffectForIndex(in.SentenceIndex), in.AudioDurationMs, in.Settings)

	// Append ASS subtitle burn-in when a subtitle file was generated
	if in.SubtitlePath != "" {
		vf += fmt.Sprintf(",ass='%s'", escapeFilterPath(in.SubtitlePath))
	}

	return []string{
		"-i", in.ImagePath, // Single image input (zoompan handles duration)
		"-i", in.AudioPath, // Narration audio input
		"-vf", vf,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", in.Settings.VideoCodec,
		"-c:a", in.Settings.AudioCodec,
		"-b:a", "192k",
		"-pix_fmt", "yuv420p",
		"-r", fmt.Sprintf("%d", in.Settings.FPS),
		"-shortest", // Audio is authoritative: end when the narration ends
		"-y",
		in.OutputPath,
	}
}

// buildMotionFilter constructs the -vf chain: cover-scale, center-crop,
// then zoompan. The motion-speed coefficient scales both the zoom range and
// the pan traverse rate; 1.0 gives the stock slow drift.
func buildMotionFilter(effect MotionEffect, durationMs int, s models.GenerationSettings) string {
	// Total frames with a 2-second buffer so zoompan always produces enough
	// output; -shortest trims back to the audio length.
	totalFrames := (durationMs * s.FPS / 1000) + s.FPS*2
	if totalFrames < s.FPS {
		totalFrames = s.FPS // minimum 1 second
	}

	speed := s.MotionSpeed
	if speed <= 0 {
		speed = 1.0
	}

	// Zoom range: ±0.25 at speed 1.0, clamped so extreme coefficients do not
	// push the crop window outside the source.
	zoomRange := 0.25 * speed
	if zoomRange > 0.5 {
		zoomRange = 0.5
	}

	cx := "iw/2-(iw/zoom/2)"
	cy := "ih/2-(ih/zoom/2)"

	var zExpr, xExpr, yExpr string
	switch effect {
	case EffectZoomIn:
		zExpr = fmt.Sprintf("1.0+%.4f*on/%d", zoomRange, totalFrames)
		xExpr, yExpr = cx, cy
	case EffectZoomOut:
		zExpr = fmt.Sprintf("%.4f-%.4f*on/%d", 1.0+zoomRange, zoomRange, totalFrames)
		xExpr, yExpr = cx, cy
	case EffectPanDown:
		zExpr = fmt.Sprintf("%.4f", 1.0+zoomRange)
		xExpr = cx
		yExpr = fmt.Sprintf("(ih-ih/zoom)*on/%d", totalFrames)
	case EffectPanUp:
		zExpr = fmt.Sprintf("%.4f", 1.0+zoomRange)
		xExpr = cx
		yExpr = fmt.Sprintf("(ih-ih/zoom)*(1-on/%d)", totalFrames)
	default:
		zExpr = fmt.Sprintf("1.0+%.4f*on/%d", zoomRange, totalFrames)
		xExpr, yExpr = cx, cy
	}

	// scale + crop: cover the target resolution preserving aspect ratio,
	// then center-crop the overflow. Never letterbox.
	cover := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d",
		s.Width, s.Height, s.Width, s.Height,
	)

	zoompan := fmt.Sprintf(
		"zoompan=z='%s':x='%s':y='%s':d=%d:s=%dx%d:fps=%d",
		zExpr, xExpr, yExpr,
		totalFrames,
		s.Width, s.Height,
		s.FPS,
	)

	return cover + "," + zoompan
}

// escapeFilterPath escapes special characters in file paths for FFmpeg
// filter syntax: colons, backslashes, and single quotes are treated
// specially inside filter strings.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}

// Compose renders one sentence clip. Returns *CompositionError on any
// failure: missing inputs, non-zero ffmpeg exit, or timeout.
func (s *FFmpegService) Compose(ctx context.Context, in ComposeInput) error {
	for _, path := range []string{in.ImagePath, in.AudioPath} {
		if _, err := os.Stat(path); err != nil {
			return &CompositionError{
				Reason:   fmt.Sprintf("input not readable: %s", path),
				ExitCode: -1,
				Err:      err,
			}
		}
	}

	return s.run(ctx, s.composeTimeout, BuildComposeArgs(in))
}
