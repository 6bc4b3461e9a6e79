package transcode

import (
	"fmt"
	"path/filepath"
	"strconv"

	"hls-forward/internal/playlist"
)

const (
	// SegmentDuration is the target segment length in seconds.
	SegmentDuration = 6
	// PlaylistSize is the number of segments kept in a live playlist.
	PlaylistSize = 10

	keyframeInterval = "30"

	defaultVideoEncoder = "libx264"
	defaultAudioEncoder = "aac"
)

var videoEncoders = map[VideoCodec]string{
	VideoH264:          "libx264",
	VideoH265:          "libx265",
	VideoAV1:           "libaom-av1",
	VideoVP9:           "libvpx-vp9",
	VideoVP8:           "libvpx",
	VideoMPEG4:         "mpeg4",
	VideoMPEG2:         "mpeg2video",
	VideoMPEG1:         "mpeg1video",
	VideoH263:          "h263",
	VideoSorensonSpark: "flv1",
	VideoVP6:           "vp6",
	VideoVC1:           "vc1",
	VideoTheora:        "libtheora",
	VideoRealVideo:     "rv40",
	VideoCinepak:       "cinepak",
	VideoIndeo:         "indeo3",
	VideoMSVideo1:      "msvideo1",
}

var audioEncoders = map[AudioCodec]string{
	AudioAACLC:     "aac",
	AudioAAC:       "aac",
	AudioHEAAC:     "libfdk_aac",
	AudioXHEAAC:    "libfdk_aac",
	AudioAC3:       "ac3",
	AudioEAC3:      "eac3",
	AudioMP3:       "libmp3lame",
	AudioOpus:      "libopus",
	AudioVorbis:    "libvorbis",
	AudioMP2:       "mp2",
	AudioMP1:       "mp1",
	AudioWMA1:      "wmav1",
	AudioWMA2:      "wmav2",
	AudioRealAudio: "ra_144",
}

// muxer describes how a container is written. A muxer with a segment
// extension is written as an HLS playlist plus segments.
type muxer struct {
	format     string
	segmentExt string
	fileExt    string
	extra      []string
}

func (m muxer) segmented() bool { return m.segmentExt != "" }

var muxers = map[Container]muxer{
	ContainerTS:     {format: "hls", segmentExt: "ts"},
	ContainerFMP4:   {format: "hls", segmentExt: "m4s"},
	ContainerMP4:    {format: "mp4", fileExt: "mp4", extra: []string{"-movflags", "faststart"}},
	ContainerMKV:    {format: "matroska", fileExt: "mkv"},
	ContainerWebM:   {format: "webm", fileExt: "webm"},
	ContainerMOV:    {format: "mov", fileExt: "mov"},
	ContainerMPEGPS: {format: "vob", fileExt: "mpg"},
	ContainerFLV:    {format: "flv", fileExt: "flv"},
	ContainerAVI:    {format: "avi", fileExt: "avi"},
	ContainerASF:    {format: "asf", fileExt: "asf"},
	ContainerRM:     {format: "rm", fileExt: "rm"},
	ContainerRMVB:   {format: "rm", fileExt: "rmvb"},
}

func muxerFor(c Container) muxer {
	if m, ok := muxers[c]; ok {
		return m
	}
	return muxers[ContainerTS]
}

// VideoEncoder returns the encoder library used for codec. Unknown codecs
// use libx264.
func VideoEncoder(codec VideoCodec) string {
	if enc, ok := videoEncoders[codec]; ok {
		return enc
	}
	return defaultVideoEncoder
}

// AudioEncoder returns the encoder library used for codec. Unknown codecs
// use the native aac encoder.
func AudioEncoder(codec AudioCodec) string {
	if enc, ok := audioEncoders[codec]; ok {
		return enc
	}
	return defaultAudioEncoder
}

// Segmented reports whether the variant is published as a playlist of
// segments rather than a single file.
func (v StreamVariant) Segmented() bool {
	return muxerFor(v.container()).segmented()
}

// OutputFile is the file name the transcoder writes for the variant inside
// the working directory: {name}.m3u8 for segmented containers, otherwise
// {name}.{ext}.
func OutputFile(v StreamVariant) string {
	m := muxerFor(v.container())
	if m.segmented() {
		return v.Name() + ".m3u8"
	}
	return v.Name() + "." + m.fileExt
}

// OutputPath joins the working directory and OutputFile.
func OutputPath(workDir string, v StreamVariant) string {
	return filepath.Join(workDir, OutputFile(v))
}

// BuildCommand returns the transcoder argument list (without the binary) that
// reads inputURL and writes variant into workDir. The transcoder reads the
// master manifest itself; source does not change the arguments today.
//
// BuildCommand has no side effects.
func BuildCommand(inputURL, workDir string, variant StreamVariant, source playlist.SourceRendition) []string {
	name := variant.Name()
	bitrate := variant.Bitrate

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-re",
		"-i", inputURL,
		"-c:v", VideoEncoder(variant.Codec),
		"-c:a", AudioEncoder(variant.AudioCodec),
		"-s", variant.Resolution.String(),
		"-b:v", kbps(bitrate),
		"-maxrate", kbps(bitrate * 6 / 5),
		"-bufsize", kbps(bitrate * 2),
	}
	if variant.Framerate != nil {
		args = append(args, "-r", strconv.FormatFloat(*variant.Framerate, 'f', -1, 64))
	}

	args = append(args, codecTuning(variant.Codec)...)
	args = append(args, containerArgs(workDir, name, muxerFor(variant.container()))...)
	args = append(args, OutputPath(workDir, variant))
	return args
}

func kbps(v int) string {
	return strconv.Itoa(v) + "k"
}

func codecTuning(codec VideoCodec) []string {
	switch codec {
	case VideoH264, VideoH265:
		return []string{"-preset", "fast", "-g", keyframeInterval, "-sc_threshold", "0"}
	case VideoVP9, VideoVP8:
		return []string{"-deadline", "realtime", "-cpu-used", "4"}
	case VideoAV1:
		return []string{"-cpu-used", "8", "-g", keyframeInterval}
	default:
		return []string{"-g", keyframeInterval}
	}
}

func containerArgs(workDir, name string, m muxer) []string {
	if !m.segmented() {
		return append([]string{"-f", m.format}, m.extra...)
	}
	args := []string{
		"-f", m.format,
		"-hls_time", strconv.Itoa(SegmentDuration),
		"-hls_list_size", strconv.Itoa(PlaylistSize),
		"-hls_flags", "delete_segments+append_list",
	}
	if m.segmentExt == "m4s" {
		args = append(args,
			"-hls_segment_type", "fmp4",
			"-hls_fmp4_init_filename", name+"_init.mp4",
		)
	}
	pattern := fmt.Sprintf("%s_%%03d.%s", name, m.segmentExt)
	return append(args, "-hls_segment_filename", filepath.Join(workDir, pattern))
}
