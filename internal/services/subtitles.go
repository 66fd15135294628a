package services

import (
	"fmt"
	"os"
	"strings"

	"github.com/lumivox/chapterreel/internal/models"
)

// ---------------------------------------------------------------------------
// ASS subtitle generation
//
// One subtitle file per sentence clip. Long sentences are split into short
// chunks spread evenly across the narration duration so the viewer never
// faces a wall of text. Font, size, color, and screen position come from the
// task's generation settings.
// ---------------------------------------------------------------------------

const (
	// How many words to show at once
	wordsPerChunk = 7

	assColorBlack     = "&H00000000" // pure black (outline)
	assColorSemiBlack = "&H80000000" // 50% transparent black (shadow)

	subtitleOutline = 3
	subtitleMarginV = 120
)

// assAlignment maps a settings position to the ASS numpad alignment code.
func assAlignment(position string) int {
	switch position {
	case "top":
		return 8
	case "middle":
		return 5
	default: // bottom
		return 2
	}
}

// WriteASSSubtitles renders subtitle text to an ASS file covering
// durationMs of narration. Returns an error when the text is empty; the
// caller simply skips burn-in in that case.
func WriteASSSubtitles(text string, durationMs int, settings models.GenerationSettings, outputPath string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("no subtitle text")
	}

	chunks := chunkWords(strings.Fields(text), wordsPerChunk)

	var sb strings.Builder

	// Script header
	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&sb, "PlayResX: %d\n", settings.Width)
	fmt.Fprintf(&sb, "PlayResY: %d\n", settings.Height)
	sb.WriteString("WrapStyle: 0\n")
	sb.WriteString("ScaledBorderAndShadow: yes\n")
	sb.WriteString("\n")

	// Style definitions
	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&sb,
		"Style: Default,%s,%d,%s,%s,%s,%s,-1,0,0,0,100,100,1,0,1,%d,0,%d,40,40,%d,1\n",
		settings.SubtitleFont, settings.SubtitleFontSize,
		settings.SubtitleColor, // PrimaryColour (text)
		settings.SubtitleColor, // SecondaryColour
		assColorBlack,          // OutlineColour
		assColorSemiBlack,      // BackColour (shadow)
		subtitleOutline,
		assAlignment(settings.SubtitlePosition),
		subtitleMarginV,
	)
	sb.WriteString("\n")

	// Events: chunks spread evenly across the narration duration
	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	totalSec := float64(durationMs) / 1000.0
	perChunk := totalSec / float64(len(chunks))
	for i, chunk := range chunks {
		start := float64(i) * perChunk
		end := float64(i+1) * perChunk
		fmt.Fprintf(&sb,
			"Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			formatASSTime(start),
			formatASSTime(end),
			strings.Join(chunk, " "),
		)
	}

	if err := os.WriteFile(outputPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write ASS subtitle file: %w", err)
	}

	return nil
}

// chunkWords groups words into display chunks of the specified size, also
// breaking at sentence-ending punctuation to keep chunks natural.
func chunkWords(words []string, chunkSize int) [][]string {
	var chunks [][]string
	var current []string

	for _, word := range words {
		current = append(current, word)

		isSentenceEnd := strings.ContainsAny(word, ".!?")
		if len(current) >= chunkSize || (isSentenceEnd && len(current) >= 2) {
			chunks = append(chunks, current)
			current = nil
		}
	}

	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	return chunks
}

// formatASSTime converts seconds to ASS timestamp format: H:MM:SS.CC (centiseconds)
func formatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}

	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60
	centiseconds := int((seconds - float64(int(seconds))) * 100)

	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, centiseconds)
}
