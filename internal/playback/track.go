package playback

import (
	"strings"
	"time"

	"github.com/llehouerou/waves-connect/internal/statemachine"
)

// Track is a summary of a state machine track.
// This is a copy of the data, not a reference to statemachine.Track.
type Track struct {
	URI      string
	Title    string
	Artist   string
	Album    string
	Duration time.Duration
	ImageURL string
}

// trackFrom summarizes t. It returns nil when t has no metadata.
func trackFrom(t *statemachine.Track) *Track {
	if t == nil || t.Metadata == nil {
		return nil
	}
	md := t.Metadata

	artists := make([]string, 0, len(md.Authors))
	for _, a := range md.Authors {
		artists = append(artists, a.Name)
	}

	var image string
	var width int
	for _, img := range md.Images {
		if img.Width >= width {
			image, width = img.URL, img.Width
		}
	}

	return &Track{
		URI:      md.URI,
		Title:    md.Name,
		Artist:   strings.Join(artists, ", "),
		Album:    md.GroupName,
		Duration: time.Duration(md.Duration) * time.Millisecond,
		ImageURL: image,
	}
}
