package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// FFmpegService owns external ffmpeg/ffprobe execution: scratch-file
// management, hard wall-clock timeouts, and exit-code capture. Command
// argument lists are built by the pure builders in compositor.go and
// assembler.go so they stay testable without running anything.
type FFmpegService struct {
	scratchDir      string
	composeTimeout  time.Duration
	assembleTimeout time.Duration
}

func NewFFmpegService(scratchDir string, composeTimeout, assembleTimeout time.Duration) *FFmpegService {
	// Create scratch directory if it doesn't exist
	if err := os.MkdirAll(scratchDir, 0755); err != nil {
		panic(fmt.Sprintf("failed to create scratch dir: %v", err))
	}

	return &FFmpegService{
		scratchDir:      scratchDir,
		composeTimeout:  composeTimeout,
		assembleTimeout: assembleTimeout,
	}
}

// run executes ffmpeg with a hard timeout. On expiry the process is killed
// and the returned error reports timedOut=true so callers can classify it.
func (s *FFmpegService) run(ctx context.Context, timeout time.Duration, args []string) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, "ffmpeg", args...)
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return &CompositionError{
			Reason:   fmt.Sprintf("ffmpeg killed after %s", timeout),
			ExitCode: -1,
			TimedOut: true,
			Err:      err,
		}
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}

	return &CompositionError{
		Reason:   fmt.Sprintf("ffmpeg: %s", tailLines(stderr.String(), 5)),
		ExitCode: exitCode,
		Err:      err,
	}
}

// ProbeDurationMs returns the duration of a media file in milliseconds.
func (s *FFmpegService) ProbeDurationMs(ctx context.Context, path string) (int, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return int(durationSec * 1000), nil
}

// TaskScratchDir returns (and creates) the scratch directory for one task.
// Scratch space is task-scoped and never shared across tasks.
func (s *FFmpegService) TaskScratchDir(taskID string) (string, error) {
	dir := filepath.Join(s.scratchDir, taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create task scratch dir: %w", err)
	}
	return dir, nil
}

// ScratchFile returns a path inside a task's scratch directory.
func (s *FFmpegService) ScratchFile(taskID, filename string) string {
	return filepath.Join(s.scratchDir, taskID, filename)
}

// CleanupTask removes a task's entire scratch directory once the final
// artifact has been persisted.
func (s *FFmpegService) CleanupTask(taskID string) error {
	return os.RemoveAll(filepath.Join(s.scratchDir, taskID))
}

// Cleanup removes individual scratch files.
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		os.Remove(path)
	}
}

// tailLines keeps the last n lines of ffmpeg stderr — the useful part.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
