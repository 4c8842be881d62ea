package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"streamrelay/internal/domain"
	"streamrelay/internal/metrics"
)

// Prober inspects remote media over HTTP using ffprobe.
type Prober struct {
	binary     string
	authHeader string
}

// NewProber returns a Prober bound to the given ffprobe binary. authHeader,
// when non-empty, is sent as the Authorization header on every probe request.
func NewProber(binary, authHeader string) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin, authHeader: authHeader}
}

const maxProbeTimeout = 30 * time.Second

// Probe inspects the media at url and returns its track layout and duration.
func (p *Prober) Probe(ctx context.Context, url string) (domain.MediaInfo, error) {
	target := strings.TrimSpace(url)
	if target == "" {
		return domain.MediaInfo{}, errors.New("url is required")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}

	args := []string{
		"-v", "quiet",
		"-analyzeduration", "5000000",
		"-probesize", "5000000",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
	}
	if p.authHeader != "" {
		args = append(args, "-headers", "Authorization: "+p.authHeader+"\r\n")
	}
	args = append(args, target)

	cmd := exec.CommandContext(ctx, p.binary, args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	info, parseErr := parseProbeOutput(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				return domain.MediaInfo{}, fmt.Errorf("%w: %v", domain.ErrProbeFailed, runErr)
			}
			return domain.MediaInfo{}, fmt.Errorf("%w: %v: %s", domain.ErrProbeFailed, runErr, msg)
		}
		return domain.MediaInfo{}, fmt.Errorf("%w: output parse: %v", domain.ErrProbeFailed, parseErr)
	}

	// ffprobe can exit non-zero for partially available streams while still
	// writing usable metadata. Keep the metadata when we have it.
	if runErr != nil && len(info.Tracks) == 0 {
		return domain.MediaInfo{}, fmt.Errorf("%w: %v", domain.ErrProbeFailed, runErr)
	}

	return info, nil
}

// CheckCodec probes url and decides whether its audio needs remuxing.
// A failed probe counts as needing a transcode rather than an error: the
// remux path tolerates inputs the prober cannot read.
func (p *Prober) CheckCodec(ctx context.Context, url string) domain.CodecCheck {
	info, err := p.Probe(ctx, url)
	if err != nil {
		metrics.ProbeFailuresTotal.Inc()
		return domain.CodecCheck{
			NeedsTranscode: true,
			Reason:         "probe failed",
		}
	}

	audio, ok := info.FirstAudioTrack()
	if !ok {
		// No detectable audio track: take the slower but working path.
		return domain.CodecCheck{
			HasAudio:       false,
			NeedsTranscode: true,
			Reason:         "no audio track",
		}
	}

	if domain.IsCompatibleAudioCodec(audio.Codec) {
		return domain.CodecCheck{
			HasAudio:   true,
			AudioCodec: audio.Codec,
			Reason:     "audio codec plays directly",
		}
	}
	return domain.CodecCheck{
		HasAudio:       true,
		AudioCodec:     audio.Codec,
		NeedsTranscode: true,
		Reason:         "audio codec " + audio.Codec + " requires remux",
	}
}

// Duration probes url and returns the media duration in whole seconds.
// Returns 0 when the duration is unknown.
func (p *Prober) Duration(ctx context.Context, url string) int64 {
	info, err := p.Probe(ctx, url)
	if err != nil || info.Duration <= 0 {
		return 0
	}
	return int64(info.Duration)
}

// probePayload is the subset of ffprobe JSON output we parse.
type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType   string `json:"codec_type"`
	CodecName   string `json:"codec_name"`
	Disposition struct {
		Default int `json:"default"`
	} `json:"disposition"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

func parseProbeOutput(data []byte) (domain.MediaInfo, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return domain.MediaInfo{}, err
	}

	tracks := make([]domain.MediaTrack, 0, len(payload.Streams))
	counts := map[string]int{}
	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video", "audio", "subtitle":
			tracks = append(tracks, domain.MediaTrack{
				Index:   counts[stream.CodecType],
				Type:    stream.CodecType,
				Codec:   stream.CodecName,
				Default: stream.Disposition.Default == 1,
			})
			counts[stream.CodecType]++
		}
	}

	var duration float64
	if payload.Format.Duration != "" {
		if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil && d > 0 {
			duration = d
		}
	}

	return domain.MediaInfo{Tracks: tracks, Duration: duration}, nil
}
