package ffmpeg

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
)

var (
	log = logger.Get("FFprobe")

	ErrNoStreams = errors.New("merged output contains no streams")

	messageMatcher = regexp.MustCompile(`(?s)message: ({.*})`)
)

type (
	Config struct {
		FfmpegBinPath  string `yaml:"ffmpeg_path" env:"FFMPEG_PATH" env-default:"/usr/bin/ffmpeg"`
		FfprobeBinPath string `yaml:"ffprobe_path" env:"FFPROBE_PATH" env-default:"/usr/bin/ffprobe"`
		Verify         bool   `yaml:"verify_output" env:"FFMPEG_VERIFY_OUTPUT" env-default:"true"`
	}

	Stream struct {
		Index     int
		CodecType string
		CodecName string
		Width     int
		Height    int
	}

	ProbeResult struct {
		FormatName string
		Duration   string
		Size       string
		Streams    []Stream
	}

	// Prober inspects a merged media file using ffprobe, ensuring the
	// stream-copy merge produced something playable.
	Prober struct {
		config Config
	}
)

func NewProber(config Config) *Prober {
	return &Prober{config: config}
}

// Enabled reports whether output verification should be performed.
func (p *Prober) Enabled() bool { return p.config.Verify }

// Verify probes the file at the path provided, returning an error if
// ffprobe fails or if the file contains no streams.
func (p *Prober) Verify(path string) (*ProbeResult, error) {
	metadata, err := p.probe(path)
	if err != nil {
		return nil, err
	}

	result := &ProbeResult{Streams: make([]Stream, 0)}
	if format := metadata.GetFormat(); format != nil {
		result.FormatName = format.GetFormatName()
		result.Duration = format.GetDuration()
		result.Size = format.GetSize()
	}

	for _, stream := range metadata.GetStreams() {
		result.Streams = append(result.Streams, Stream{
			Index:     stream.GetIndex(),
			CodecType: stream.GetCodecType(),
			CodecName: stream.GetCodecName(),
			Width:     stream.GetWidth(),
			Height:    stream.GetHeight(),
		})
	}

	if len(result.Streams) == 0 {
		return nil, fmt.Errorf("verify %s: %w", path, ErrNoStreams)
	}

	log.Emit(logger.DEBUG, "Verified %s (format=%s, duration=%s, streams=%d)\n", path, result.FormatName, result.Duration, len(result.Streams))
	return result, nil
}

func (p *Prober) probe(path string) (transcoder.Metadata, error) {
	cfg := ffmpeg.Config{
		FfmpegBinPath:  p.config.FfmpegBinPath,
		FfprobeBinPath: p.config.FfprobeBinPath,
	}

	metadata, err := ffmpeg.New(&cfg).Input(path).GetMetadata()
	if err != nil {
		return nil, fmt.Errorf("failed to extract file metadata information using ffprobe: %w", parseFfmpegError(err))
	}

	return metadata, nil
}

func parseFfmpegError(err error) error {
	// The error returned by the transcoder contains the entire ffmpeg banner, we
	// only want the JSON encoded 'message' inside of it.
	groups := messageMatcher.FindStringSubmatch(err.Error())
	if len(groups) == 0 {
		return err
	}

	var out map[string]interface{}
	if jsonErr := json.Unmarshal([]byte(groups[1]), &out); jsonErr != nil {
		return errors.New(groups[1])
	}

	if exception, ok := out["error"].(map[string]interface{}); ok {
		if str, ok := exception["string"].(string); ok {
			return errors.New(str)
		}
	}

	return err
}
