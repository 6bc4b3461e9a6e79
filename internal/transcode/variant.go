package transcode

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// VideoCodec names a target video codec for an output variant.
type VideoCodec string

// Video codecs understood by the command builder.
const (
	VideoH264  VideoCodec = "h264"
	VideoH265  VideoCodec = "h265"
	VideoAV1   VideoCodec = "av1"
	VideoVP9   VideoCodec = "vp9"
	VideoVP8   VideoCodec = "vp8"
	VideoMPEG4 VideoCodec = "mpeg4"
	VideoMPEG2 VideoCodec = "mpeg2"
	VideoMPEG1 VideoCodec = "mpeg1"
	VideoH263  VideoCodec = "h263"
	// Sorenson Spark is the FLV1 flavour of H.263.
	VideoSorensonSpark VideoCodec = "sorenson_spark"
	VideoVP6           VideoCodec = "vp6"
	VideoVC1           VideoCodec = "vc1"
	VideoTheora        VideoCodec = "theora"
	VideoRealVideo     VideoCodec = "realvideo"
	VideoCinepak       VideoCodec = "cinepak"
	VideoIndeo         VideoCodec = "indeo"
	VideoMSVideo1      VideoCodec = "msvideo1"
)

// AudioCodec names a target audio codec for an output variant.
type AudioCodec string

// Audio codecs understood by the command builder.
const (
	AudioAACLC     AudioCodec = "aac_lc"
	AudioHEAAC     AudioCodec = "he_aac"
	AudioXHEAAC    AudioCodec = "xhe_aac"
	AudioAC3       AudioCodec = "ac3"
	AudioEAC3      AudioCodec = "eac3"
	AudioMP3       AudioCodec = "mp3"
	AudioOpus      AudioCodec = "opus"
	AudioVorbis    AudioCodec = "vorbis"
	AudioMP2       AudioCodec = "mp2"
	AudioMP1       AudioCodec = "mp1"
	AudioWMA1      AudioCodec = "wma1"
	AudioWMA2      AudioCodec = "wma2"
	AudioRealAudio AudioCodec = "realaudio"

	// AudioAAC is accepted as an alias of AudioAACLC.
	AudioAAC AudioCodec = "aac"
)

// Container is the output container format of a variant.
type Container string

// Containers understood by the command builder.
const (
	ContainerTS     Container = "ts"
	ContainerFMP4   Container = "fmp4"
	ContainerMP4    Container = "mp4"
	ContainerMKV    Container = "mkv"
	ContainerWebM   Container = "webm"
	ContainerMOV    Container = "mov"
	ContainerMPEGPS Container = "mpeg_ps"
	ContainerFLV    Container = "flv"
	ContainerAVI    Container = "avi"
	ContainerASF    Container = "asf"
	ContainerRM     Container = "rm"
	ContainerRMVB   Container = "rmvb"
)

// ErrInvalidRequest is wrapped by every validation failure of a Request or
// StreamVariant.
var ErrInvalidRequest = errors.New("invalid transcode request")

// Resolution is an output frame size in pixels.
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// String renders the resolution as WIDTHxHEIGHT.
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Validate reports whether both dimensions are positive.
func (r Resolution) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: resolution %s must have positive width and height", ErrInvalidRequest, r)
	}
	return nil
}

// StreamVariant describes one output rendition the caller wants produced.
type StreamVariant struct {
	Codec      VideoCodec `json:"codec" yaml:"codec"`
	AudioCodec AudioCodec `json:"audio_codec" yaml:"audio_codec"`
	Resolution Resolution `json:"resolution" yaml:"resolution"`
	// Bitrate is the target video bitrate in kbps.
	Bitrate   int       `json:"bitrate" yaml:"bitrate"`
	Framerate *float64  `json:"framerate,omitempty" yaml:"framerate,omitempty"`
	Container Container `json:"container" yaml:"container"`
}

// Name is the stable identifier of the variant, used for output file names
// and as the key of published URLs, e.g. h264_1920x1080_5000k_ts.
func (v StreamVariant) Name() string {
	return fmt.Sprintf("%s_%s_%dk_%s", v.Codec, v.Resolution, v.Bitrate, v.container())
}

// container returns the container, defaulting to TS when unset.
func (v StreamVariant) container() Container {
	if v.Container == "" {
		return ContainerTS
	}
	return v.Container
}

// Validate checks the numeric invariants of the variant and that codec and
// container are safe to use in a file name. Unknown but well-formed codec and
// container values are accepted; they fall back to defaults when the command
// is built.
func (v StreamVariant) Validate() error {
	if v.Codec == "" {
		return fmt.Errorf("%w: video codec is required", ErrInvalidRequest)
	}
	// Codec and container are part of the variant name, which is used as a
	// file name in the working directory.
	if !nameSafe(string(v.Codec)) {
		return fmt.Errorf("%w: video codec %q may only contain a-z, 0-9 and _", ErrInvalidRequest, v.Codec)
	}
	if v.Container != "" && !nameSafe(string(v.Container)) {
		return fmt.Errorf("%w: container %q may only contain a-z, 0-9 and _", ErrInvalidRequest, v.Container)
	}
	if err := v.Resolution.Validate(); err != nil {
		return err
	}
	if v.Bitrate <= 0 {
		return fmt.Errorf("%w: bitrate must be positive, got %d", ErrInvalidRequest, v.Bitrate)
	}
	if v.Framerate != nil && *v.Framerate <= 0 {
		return fmt.Errorf("%w: framerate must be positive, got %g", ErrInvalidRequest, *v.Framerate)
	}
	return nil
}

func nameSafe(s string) bool {
	for _, c := range s {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return false
		}
	}
	return s != ""
}

// Request is a transcode request as handed to the engine. It is not modified
// after submission.
type Request struct {
	InputURL       string          `json:"input_url" yaml:"input_url"`
	OutputVariants []StreamVariant `json:"output_variants" yaml:"output_variants"`
	Host           string          `json:"output_host" yaml:"output_host"`
	Port           int             `json:"output_port" yaml:"output_port"`
}

// Validate checks the input URL, publish port and every output variant.
func (r Request) Validate() error {
	u, err := url.ParseRequestURI(strings.TrimSpace(r.InputURL))
	if err != nil {
		return fmt.Errorf("%w: input url: %v", ErrInvalidRequest, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: input url must be http or https, got %q", ErrInvalidRequest, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: input url has no host", ErrInvalidRequest)
	}
	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("%w: invalid publish port %d", ErrInvalidRequest, r.Port)
	}
	if len(r.OutputVariants) == 0 {
		return fmt.Errorf("%w: at least one output variant is required", ErrInvalidRequest)
	}
	for _, v := range r.OutputVariants {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// PublishURL is the URL a variant's playlist is served under.
func (r Request) PublishURL(variantName string) string {
	return fmt.Sprintf("http://%s:%d/%s.m3u8", r.Host, r.Port, variantName)
}
