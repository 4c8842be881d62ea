package domain

import (
	"fmt"
	"strings"
)

// PlayableItem is one file within a session eligible for video playback.
// The index is the origin-reported file id, unique within the session.
type PlayableItem struct {
	Index         int    `json:"index"`
	Name          string `json:"name"`
	Size          int64  `json:"size"`
	SizeFormatted string `json:"sizeFormatted"`
	StreamURL     string `json:"streamUrl"`
	TranscodeURL  string `json:"transcodeUrl"`
	ProbeURL      string `json:"probeUrl"`
}

var videoExtensions = []string{".mkv", ".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm", ".m4v", ".ts"}

// IsVideoFile reports whether the file name carries a recognized video
// container extension.
func IsVideoFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range videoExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// FormatBytes renders a byte count with 1024-based units, two decimals.
func FormatBytes(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	const unit = 1024
	sizes := []string{"Bytes", "KB", "MB", "GB", "TB"}
	value := float64(bytes)
	idx := 0
	for value >= unit && idx < len(sizes)-1 {
		value /= unit
		idx++
	}
	if idx == 0 {
		return fmt.Sprintf("%d Bytes", bytes)
	}
	return fmt.Sprintf("%.2f %s", value, sizes[idx])
}
