package streaming

import (
	"errors"
	"sort"

	"hls-forward/internal/transcode"
)

// DefaultPreset is used when a start request names neither a preset nor variants.
const DefaultPreset = "standard"

// ErrUnknownPreset is returned when a start request names a preset that does
// not exist.
var ErrUnknownPreset = errors.New("unknown preset")

// Preset is a named list of output variants.
type Preset struct {
	Name     string                    `json:"name" yaml:"name"`
	Variants []transcode.StreamVariant `json:"variants" yaml:"variants"`
}

func fps(v float64) *float64 { return &v }

func presetVariant(codec transcode.VideoCodec, audio transcode.AudioCodec, w, h, kbps int, rate float64, c transcode.Container) transcode.StreamVariant {
	return transcode.StreamVariant{
		Codec:      codec,
		AudioCodec: audio,
		Resolution: transcode.Resolution{Width: w, Height: h},
		Bitrate:    kbps,
		Framerate:  fps(rate),
		Container:  c,
	}
}

// BuiltinPresets returns the presets available without a config file.
func BuiltinPresets() []Preset {
	const (
		h264 = transcode.VideoH264
		h265 = transcode.VideoH265
		vp9  = transcode.VideoVP9
		vp8  = transcode.VideoVP8
		av1  = transcode.VideoAV1
		aac  = transcode.AudioAACLC
		opus = transcode.AudioOpus
		ts   = transcode.ContainerTS
		fmp4 = transcode.ContainerFMP4
		webm = transcode.ContainerWebM
	)
	return []Preset{
		{Name: "standard", Variants: []transcode.StreamVariant{
			presetVariant(h264, aac, 1920, 1080, 5000, 30, ts),
			presetVariant(h264, aac, 1280, 720, 3000, 30, ts),
			presetVariant(h264, aac, 854, 480, 1500, 30, ts),
		}},
		{Name: "high_efficiency", Variants: []transcode.StreamVariant{
			presetVariant(h265, aac, 1920, 1080, 3000, 30, fmp4),
			presetVariant(h265, aac, 1280, 720, 2000, 30, fmp4),
			presetVariant(vp9, opus, 1280, 720, 2500, 30, webm),
		}},
		{Name: "multi_codec", Variants: []transcode.StreamVariant{
			presetVariant(h264, aac, 1920, 1080, 5000, 30, ts),
			presetVariant(h265, aac, 1920, 1080, 3000, 30, fmp4),
			presetVariant(vp9, opus, 1280, 720, 2500, 30, webm),
			presetVariant(av1, opus, 1280, 720, 2000, 30, fmp4),
		}},
		{Name: "legacy_support", Variants: []transcode.StreamVariant{
			presetVariant(transcode.VideoMPEG4, transcode.AudioMP3, 720, 576, 1200, 25, transcode.ContainerAVI),
			presetVariant(transcode.VideoH263, transcode.AudioMP3, 352, 288, 400, 15, transcode.ContainerFLV),
			presetVariant(vp8, transcode.AudioVorbis, 854, 480, 1000, 30, webm),
		}},
		{Name: "modern_web", Variants: []transcode.StreamVariant{
			presetVariant(vp9, opus, 1920, 1080, 3500, 30, webm),
			presetVariant(vp8, transcode.AudioVorbis, 1280, 720, 2000, 30, webm),
			presetVariant(av1, opus, 1920, 1080, 2500, 30, fmp4),
		}},
		{Name: "audio_focus", Variants: []transcode.StreamVariant{
			presetVariant(h264, transcode.AudioAC3, 1280, 720, 2000, 30, ts),
			presetVariant(h264, transcode.AudioEAC3, 1920, 1080, 4000, 30, ts),
			presetVariant(h265, transcode.AudioHEAAC, 1280, 720, 2500, 30, fmp4),
		}},
	}
}

// PresetCatalog is a read-only set of presets keyed by name.
type PresetCatalog struct {
	presets map[string]Preset
}

// NewPresetCatalog builds a catalog from the built-in presets with overrides
// applied on top; an override replaces a built-in preset of the same name.
func NewPresetCatalog(overrides ...Preset) *PresetCatalog {
	c := &PresetCatalog{presets: make(map[string]Preset)}
	for _, p := range BuiltinPresets() {
		c.presets[p.Name] = p
	}
	for _, p := range overrides {
		c.presets[p.Name] = p
	}
	return c
}

// Get returns the preset with the given name.
func (c *PresetCatalog) Get(name string) (Preset, bool) {
	p, ok := c.presets[name]
	return p, ok
}

// List returns every preset ordered by name.
func (c *PresetCatalog) List() []Preset {
	out := make([]Preset, 0, len(c.presets))
	for _, p := range c.presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
