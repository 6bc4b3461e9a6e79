package streaming

import (
	"github.com/grafov/m3u8"
)

// BuildMasterPlaylist renders a master playlist that lists the stream's
// published variants in request order. Bandwidth is the variant bitrate in
// bits per second. Variants that are not running (partial start) are left out.
func BuildMasterPlaylist(rec *StreamRecord) string {
	p := m3u8.NewMasterPlaylist()
	seen := make(map[string]bool, len(rec.Config.OutputVariants))

	for _, v := range rec.Config.OutputVariants {
		name := v.Name()
		uri, ok := rec.Variants[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true

		params := m3u8.VariantParams{
			Bandwidth:  uint32(v.Bitrate) * 1000,
			Resolution: v.Resolution.String(),
		}
		if v.Framerate != nil {
			params.FrameRate = *v.Framerate
		}
		p.Append(uri, nil, params)
	}
	return p.String()
}
