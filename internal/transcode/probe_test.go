package transcode

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParseProbeOutput(t *testing.T) {
	tests := []struct {
		name         string
		payload      string
		wantTracks   int
		wantAudio    string
		wantDuration float64
		wantErr      bool
	}{
		{
			name: "video and aac audio",
			payload: `{"streams":[
				{"codec_type":"video","codec_name":"h264"},
				{"codec_type":"audio","codec_name":"aac","disposition":{"default":1}}
			],"format":{"duration":"5400.25"}}`,
			wantTracks:   2,
			wantAudio:    "aac",
			wantDuration: 5400.25,
		},
		{
			name: "second audio track keeps its own index",
			payload: `{"streams":[
				{"codec_type":"audio","codec_name":"ac3"},
				{"codec_type":"audio","codec_name":"dts"}
			],"format":{}}`,
			wantTracks: 2,
			wantAudio:  "ac3",
		},
		{
			name:       "unknown stream types are skipped",
			payload:    `{"streams":[{"codec_type":"data","codec_name":"bin_data"}],"format":{}}`,
			wantTracks: 0,
		},
		{
			name:       "negative duration ignored",
			payload:    `{"streams":[],"format":{"duration":"-1"}}`,
			wantTracks: 0,
		},
		{
			name:    "malformed json",
			payload: `{"streams":`,
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info, err := parseProbeOutput([]byte(tc.payload))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected parse error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseProbeOutput() error: %v", err)
			}
			if len(info.Tracks) != tc.wantTracks {
				t.Fatalf("got %d tracks, want %d", len(info.Tracks), tc.wantTracks)
			}
			if info.Duration != tc.wantDuration {
				t.Fatalf("duration = %f, want %f", info.Duration, tc.wantDuration)
			}
			if tc.wantAudio != "" {
				audio, ok := info.FirstAudioTrack()
				if !ok {
					t.Fatal("expected an audio track")
				}
				if audio.Codec != tc.wantAudio {
					t.Fatalf("audio codec = %q, want %q", audio.Codec, tc.wantAudio)
				}
				if audio.Index != 0 {
					t.Fatalf("first audio index = %d, want 0", audio.Index)
				}
			}
		})
	}
}

func TestNewProberDefaultBinary(t *testing.T) {
	tests := []struct {
		name   string
		binary string
		want   string
	}{
		{"empty defaults to ffprobe", "", "ffprobe"},
		{"whitespace defaults to ffprobe", "   ", "ffprobe"},
		{"custom binary preserved", "/usr/local/bin/ffprobe", "/usr/local/bin/ffprobe"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewProber(tc.binary, "")
			if p.binary != tc.want {
				t.Fatalf("NewProber(%q).binary = %q, want %q", tc.binary, p.binary, tc.want)
			}
		})
	}
}

func TestProbeEmptyURL(t *testing.T) {
	p := NewProber("", "")
	if _, err := p.Probe(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty url, got nil")
	}
}

// writeFakeProbe writes an executable shell script standing in for ffprobe.
func writeFakeProbe(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffprobe")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write fake ffprobe: %v", err)
	}
	return path
}

func TestCheckCodecCompatible(t *testing.T) {
	bin := writeFakeProbe(t, `echo '{"streams":[{"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"120"}}'`)
	p := NewProber(bin, "")

	check := p.CheckCodec(context.Background(), "http://origin/stream")
	if check.NeedsTranscode {
		t.Fatalf("aac should not need transcode: %+v", check)
	}
	if !check.HasAudio || check.AudioCodec != "aac" {
		t.Fatalf("unexpected verdict: %+v", check)
	}
}

func TestCheckCodecIncompatible(t *testing.T) {
	bin := writeFakeProbe(t, `echo '{"streams":[{"codec_type":"audio","codec_name":"eac3"}],"format":{}}'`)
	p := NewProber(bin, "")

	check := p.CheckCodec(context.Background(), "http://origin/stream")
	if !check.NeedsTranscode {
		t.Fatalf("eac3 should need transcode: %+v", check)
	}
	if check.AudioCodec != "eac3" {
		t.Fatalf("audio codec = %q, want eac3", check.AudioCodec)
	}
}

func TestCheckCodecProbeFailure(t *testing.T) {
	bin := writeFakeProbe(t, `exit 1`)
	p := NewProber(bin, "")

	check := p.CheckCodec(context.Background(), "http://origin/stream")
	if !check.NeedsTranscode {
		t.Fatalf("failed probe should default to transcode: %+v", check)
	}
}

func TestCheckCodecNoAudio(t *testing.T) {
	bin := writeFakeProbe(t, `echo '{"streams":[{"codec_type":"video","codec_name":"h264"}],"format":{}}'`)
	p := NewProber(bin, "")

	check := p.CheckCodec(context.Background(), "http://origin/stream")
	if check.HasAudio {
		t.Fatalf("no audio track expected: %+v", check)
	}
	if !check.NeedsTranscode {
		t.Fatalf("undetectable audio should fall back to transcode: %+v", check)
	}
}

func TestDuration(t *testing.T) {
	bin := writeFakeProbe(t, `echo '{"streams":[],"format":{"duration":"5400.9"}}'`)
	p := NewProber(bin, "")

	if got := p.Duration(context.Background(), "http://origin/stream"); got != 5400 {
		t.Fatalf("Duration() = %d, want 5400", got)
	}
}

func TestDurationUnknown(t *testing.T) {
	bin := writeFakeProbe(t, `exit 1`)
	p := NewProber(bin, "")

	if got := p.Duration(context.Background(), "http://origin/stream"); got != 0 {
		t.Fatalf("Duration() = %d, want 0", got)
	}
}
