package services

import (
	"context"
	"fmt"
	"os"

	"github.com/lumivox/chapterreel/internal/models"
)

// ---------------------------------------------------------------------------
// Timeline assembly: ordered clips -> one continuous chapter video.
//
// Three stages, each skippable:
//   1. concat       — always; stream copy, no re-encode, no boundary gaps
//   2. background   — when a background track is set; loop/truncate + fades
//   3. speed        — when playback speed != 1.0; pitch-preserving atempo
// ---------------------------------------------------------------------------

// AssembleInput is the ordered clip list plus the task settings.
// ClipPaths must already be sorted ascending by sentence index.
type AssembleInput struct {
	TaskID         string
	ClipPaths      []string
	BackgroundPath string // empty = no background track
	OutputPath     string
	Settings       models.GenerationSettings
}

// FinalVideo describes the assembled artifact.
type FinalVideo struct {
	Path       string
	DurationMs int
}

const backgroundFadeSec = 2.0

// BuildConcatArgs concatenates clips listed in a concat-demuxer list file
// without re-encoding.
func BuildConcatArgs(listPath, outputPath string) []string {
	return []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outputPath,
	}
}

// BuildBackgroundMixArgs mixes a looping background track under the
// narration. The track loops if shorter than the video and is truncated when
// the video ends; it fades in at the start and out over the last seconds.
// mixLevel is the track's relative volume (0..1); narration stays at full.
func BuildBackgroundMixArgs(videoPath, trackPath, outputPath string, mixLevel, totalDurationSec float64, audioCodec string) []string {
	fadeOutStart := totalDurationSec - backgroundFadeSec
	if fadeOutStart < 0 {
		fadeOutStart = 0
	}

	filterComplex := fmt.Sprintf(
		"[1:a]volume=%.3f,afade=t=in:st=0:d=%.1f,afade=t=out:st=%.2f:d=%.1f[bg];"+
			"[0:a][bg]amix=inputs=2:duration=first:dropout_transition=3[aout]",
		mixLevel, backgroundFadeSec, fadeOutStart, backgroundFadeSec,
	)

	return []string{
		"-i", videoPath, // Input 0: concatenated video with narration
		"-stream_loop", "-1", // Loop the track if shorter than the video
		"-i", trackPath, // Input 1: background track
		"-filter_complex", filterComplex,
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "copy", // Video stream untouched
		"-c:a", audioCodec,
		"-b:a", "192k",
		"-shortest", // Truncate the loop when the video ends
		"-y",
		outputPath,
	}
}

// AtempoChain factors a playback-speed multiplier into a chain of atempo
// values, each within ffmpeg's supported 0.5-2.0 range. atempo time-stretches
// without shifting pitch, unlike a plain sample-rate change.
func AtempoChain(speed float64) []float64 {
	var chain []float64
	for speed > 2.0 {
		chain = append(chain, 2.0)
		speed /= 2.0
	}
	for speed < 0.5 {
		chain = append(chain, 0.5)
		speed /= 0.5
	}
	return append(chain, speed)
}

// BuildSpeedArgs rescales the whole timeline's temporal axis. Video frames
// are retimed with setpts; audio is time-stretched with a factored atempo
// chain so pitch is preserved.
func BuildSpeedArgs(inputPath, outputPath string, speed float64, videoCodec, audioCodec string) []string {
	atempo := ""
	for i, f := range AtempoChain(speed) {
		if i > 0 {
			atempo += ","
		}
		atempo += fmt.Sprintf("atempo=%.4f", f)
	}

	filterComplex := fmt.Sprintf("[0:v]setpts=PTS/%.4f[v];[0:a]%s[a]", speed, atempo)

	return []string{
		"-i", inputPath,
		"-filter_complex", filterComplex,
		"-map", "[v]",
		"-map", "[a]",
		"-c:v", videoCodec,
		"-c:a", audioCodec,
		"-b:a", "192k",
		"-y",
		outputPath,
	}
}

// Assemble concatenates the succeeded clips in order and applies the
// optional background mix and playback-speed rescale. Fails with
// *AssemblyError when no clips are available or any ffmpeg stage fails.
func (s *FFmpegService) Assemble(ctx context.Context, in AssembleInput) (*FinalVideo, error) {
	if len(in.ClipPaths) == 0 {
		return nil, &AssemblyError{Reason: "no clips to assemble"}
	}

	// Concat list file in the task's scratch dir
	listPath := s.ScratchFile(in.TaskID, "concat_list.txt")
	f, err := os.Create(listPath)
	if err != nil {
		return nil, &AssemblyError{Reason: "failed to create concat list", Err: err}
	}
	for _, path := range in.ClipPaths {
		fmt.Fprintf(f, "file '%s'\n", path)
	}
	f.Close()
	defer os.Remove(listPath)

	current := s.ScratchFile(in.TaskID, "timeline_concat.mp4")
	if err := s.run(ctx, s.assembleTimeout, BuildConcatArgs(listPath, current)); err != nil {
		return nil, &AssemblyError{Reason: "concat failed", Err: err}
	}

	// Stage 2: background track under the narration
	if in.BackgroundPath != "" {
		durationMs, err := s.ProbeDurationMs(ctx, current)
		if err != nil {
			return nil, &AssemblyError{Reason: "failed to probe timeline duration", Err: err}
		}

		mixed := s.ScratchFile(in.TaskID, "timeline_mixed.mp4")
		args := BuildBackgroundMixArgs(
			current, in.BackgroundPath, mixed,
			in.Settings.BackgroundMixLevel, float64(durationMs)/1000.0,
			in.Settings.AudioCodec,
		)
		if err := s.run(ctx, s.assembleTimeout, args); err != nil {
			return nil, &AssemblyError{Reason: "background mix failed", Err: err}
		}
		s.Cleanup(current)
		current = mixed
	}

	// Stage 3: playback-speed rescale, pitch preserved
	if in.Settings.PlaybackSpeed != 0 && in.Settings.PlaybackSpeed != 1.0 {
		scaled := s.ScratchFile(in.TaskID, "timeline_speed.mp4")
		args := BuildSpeedArgs(
			current, scaled,
			in.Settings.PlaybackSpeed,
			in.Settings.VideoCodec, in.Settings.AudioCodec,
		)
		if err := s.run(ctx, s.assembleTimeout, args); err != nil {
			return nil, &AssemblyError{Reason: "speed rescale failed", Err: err}
		}
		s.Cleanup(current)
		current = scaled
	}

	if current != in.OutputPath {
		if err := os.Rename(current, in.OutputPath); err != nil {
			return nil, &AssemblyError{Reason: "failed to move final artifact", Err: err}
		}
	}

	durationMs, err := s.ProbeDurationMs(ctx, in.OutputPath)
	if err != nil {
		return nil, &AssemblyError{Reason: "failed to probe final duration", Err: err}
	}

	return &FinalVideo{Path: in.OutputPath, DurationMs: durationMs}, nil
}
