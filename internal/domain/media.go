package domain

type MediaTrack struct {
	Index   int    `json:"index"`
	Type    string `json:"type"`
	Codec   string `json:"codec"`
	Default bool   `json:"default"`
}

type MediaInfo struct {
	Tracks   []MediaTrack `json:"tracks"`
	Duration float64      `json:"duration"`
}

// FirstAudioTrack returns the first audio track and whether one exists.
func (m MediaInfo) FirstAudioTrack() (MediaTrack, bool) {
	for _, track := range m.Tracks {
		if track.Type == "audio" {
			return track, true
		}
	}
	return MediaTrack{}, false
}

// CodecCheck is the verdict of a codec compatibility probe for one item.
type CodecCheck struct {
	HasAudio       bool   `json:"hasAudio"`
	AudioCodec     string `json:"audioCodec,omitempty"`
	NeedsTranscode bool   `json:"needsTranscode"`
	Reason         string `json:"reason"`
}

// compatibleAudioCodecs can be played directly by every supported client.
var compatibleAudioCodecs = map[string]bool{
	"aac": true,
	"mp3": true,
}

// IsCompatibleAudioCodec reports whether the codec plays without remuxing.
func IsCompatibleAudioCodec(codec string) bool {
	return compatibleAudioCodecs[codec]
}
