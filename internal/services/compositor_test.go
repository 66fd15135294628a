package services

import (
	"strings"
	"testing"

	"github.com/lumivox/chapterreel/internal/models"
)

func TestEffectForIndexDeterministic(t *testing.T) {
	for i := 0; i < 20; i++ {
		if EffectForIndex(i) != EffectForIndex(i) {
			t.Fatalf("effect for index %d not stable", i)
		}
	}

	// Adjacent sentences get different effects
	if EffectForIndex(0) == EffectForIndex(1) {
		t.Error("expected indexes 0 and 1 to use different effects")
	}

	// Negative indexes must not panic
	_ = EffectForIndex(-3)
}

func TestBuildComposeArgsCoverCrop(t *testing.T) {
	in := ComposeInput{
		ImagePath:       "/tmp/img.png",
		AudioPath:       "/tmp/audio.mp3",
		OutputPath:      "/tmp/out.mp4",
		AudioDurationMs: 5000,
		SentenceIndex:   0,
		Settings:        models.DefaultSettings(),
	}

	args := strings.Join(BuildComposeArgs(in), " ")

	// Cover-scale then center-crop, never letterbox
	if !strings.Contains(args, "force_original_aspect_ratio=increase") {
		t.Error("expected cover scaling")
	}
	if !strings.Contains(args, "crop=1080:1920") {
		t.Error("expected center crop to target resolution")
	}
	if strings.Contains(args, "pad=") {
		t.Error("letterboxing must never be used")
	}

	// Audio is authoritative for clip duration
	if !strings.Contains(args, "-shortest") {
		t.Error("expected -shortest so audio bounds the clip")
	}

	if !strings.Contains(args, "zoompan") {
		t.Error("expected a zoompan motion effect")
	}
	if strings.Contains(args, "ass=") {
		t.Error("no subtitle filter expected without a subtitle file")
	}
}

func TestBuildComposeArgsSubtitleBurnIn(t *testing.T) {
	in := ComposeInput{
		ImagePath:       "/tmp/img.png",
		AudioPath:       "/tmp/audio.mp3",
		SubtitlePath:    "/tmp/subs.ass",
		OutputPath:      "/tmp/out.mp4",
		AudioDurationMs: 3000,
		Settings:        models.DefaultSettings(),
	}

	args := strings.Join(BuildComposeArgs(in), " ")
	if !strings.Contains(args, "ass=") {
		t.Error("expected ASS subtitle burn-in filter")
	}
}

func TestBuildMotionFilterMinimumDuration(t *testing.T) {
	s := models.DefaultSettings()

	// Zero-duration audio still produces at least one second of frames
	filter := buildMotionFilter(EffectZoomIn, 0, s)
	if !strings.Contains(filter, "zoompan") {
		t.Fatalf("expected zoompan in filter, got %q", filter)
	}
}

func TestBuildMotionFilterSpeedClamped(t *testing.T) {
	s := models.DefaultSettings()
	s.MotionSpeed = 10.0

	// Extreme coefficients must not push the zoom outside a sane range
	filter := buildMotionFilter(EffectPanDown, 4000, s)
	if !strings.Contains(filter, "1.5000") {
		t.Errorf("expected zoom clamped at 1.5, got %q", filter)
	}
}

func TestEscapeFilterPath(t *testing.T) {
	got := escapeFilterPath(`C:\tmp\subs.ass`)
	if strings.Contains(got, "C:") && !strings.Contains(got, `C\:`) {
		t.Errorf("colon not escaped: %q", got)
	}
	if !strings.Contains(got, `\\`) {
		t.Errorf("backslash not escaped: %q", got)
	}
}
