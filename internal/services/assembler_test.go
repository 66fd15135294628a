package services

import (
	"math"
	"strings"
	"testing"
)

func TestAtempoChain(t *testing.T) {
	cases := []struct {
		speed float64
		want  []float64
	}{
		{1.0, []float64{1.0}},
		{1.5, []float64{1.5}},
		{2.0, []float64{2.0}},
		{4.0, []float64{2.0, 2.0}},
		{0.5, []float64{0.5}},
		{0.25, []float64{0.5, 0.5}},
	}

	for _, c := range cases {
		got := AtempoChain(c.speed)
		if len(got) != len(c.want) {
			t.Errorf("AtempoChain(%v) = %v, want %v", c.speed, got, c.want)
			continue
		}
		for i := range got {
			if math.Abs(got[i]-c.want[i]) > 1e-9 {
				t.Errorf("AtempoChain(%v) = %v, want %v", c.speed, got, c.want)
				break
			}
		}
	}
}

func TestAtempoChainProductAndRange(t *testing.T) {
	for _, speed := range []float64{0.1, 0.3, 0.75, 1.25, 3.0, 6.0} {
		product := 1.0
		for _, f := range AtempoChain(speed) {
			if f < 0.5 || f > 2.0 {
				t.Errorf("speed %v produced factor %v outside atempo's 0.5-2.0 range", speed, f)
			}
			product *= f
		}
		if math.Abs(product-speed) > 1e-9 {
			t.Errorf("speed %v factors multiply to %v", speed, product)
		}
	}
}

func TestBuildConcatArgs(t *testing.T) {
	args := strings.Join(BuildConcatArgs("/tmp/list.txt", "/tmp/out.mp4"), " ")

	// Stream copy: clips already share codec parameters, no re-encode
	if !strings.Contains(args, "-f concat") {
		t.Error("expected concat demuxer")
	}
	if !strings.Contains(args, "-c copy") {
		t.Error("expected stream copy")
	}
}

func TestBuildBackgroundMixArgs(t *testing.T) {
	args := strings.Join(BuildBackgroundMixArgs("/tmp/v.mp4", "/tmp/track.mp3", "/tmp/out.mp4", 0.12, 60.0, "aac"), " ")

	if !strings.Contains(args, "-stream_loop -1") {
		t.Error("expected the track to loop under a longer video")
	}
	if !strings.Contains(args, "volume=0.120") {
		t.Error("expected mix level applied to the track only")
	}
	if !strings.Contains(args, "amix=inputs=2") {
		t.Error("expected narration and track mixed")
	}
	if !strings.Contains(args, "afade=t=out:st=58.00") {
		t.Error("expected fade-out anchored to the video end")
	}
	if !strings.Contains(args, "-c:v copy") {
		t.Error("mixing must not re-encode the video stream")
	}
	if !strings.Contains(args, "-shortest") {
		t.Error("expected the loop truncated at video end")
	}
}

func TestBuildBackgroundMixArgsShortVideo(t *testing.T) {
	// Videos shorter than the fade window must not produce a negative start
	args := strings.Join(BuildBackgroundMixArgs("/tmp/v.mp4", "/tmp/t.mp3", "/tmp/o.mp4", 0.2, 1.0, "aac"), " ")
	if strings.Contains(args, "st=-") {
		t.Errorf("negative fade start: %s", args)
	}
}

func TestBuildSpeedArgs(t *testing.T) {
	args := strings.Join(BuildSpeedArgs("/tmp/in.mp4", "/tmp/out.mp4", 1.5, "libx264", "aac"), " ")

	if !strings.Contains(args, "setpts=PTS/1.5000") {
		t.Error("expected video frames retimed by the speed factor")
	}
	if !strings.Contains(args, "atempo=1.5000") {
		t.Error("expected pitch-preserving audio stretch")
	}
	if !strings.Contains(args, "-c:v libx264") {
		t.Error("expected configured video codec")
	}
}

func TestBuildSpeedArgsChainedAtempo(t *testing.T) {
	args := strings.Join(BuildSpeedArgs("/tmp/in.mp4", "/tmp/out.mp4", 4.0, "libx264", "aac"), " ")

	if !strings.Contains(args, "atempo=2.0000,atempo=2.0000") {
		t.Errorf("expected chained atempo factors for 4x: %s", args)
	}
}
