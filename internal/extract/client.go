package extract

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/priyankadasarigt/ytdown/pkg/logger"
)

var (
	log = logger.Get("Extractor")

	ErrFileNotFound = errors.New("file not found after download")
)

const (
	progressMarker = "[ytdown] "
	doneMarker     = "[ytdown-done] "

	progressTemplate = "download:" + progressMarker + "%(progress.status)s|%(progress._percent_str)s|%(progress._speed_str)s|%(progress._eta_str)s"
	doneTemplate     = "after_move:" + doneMarker + "%(title)s|%(filepath)s"

	StatusDownloading = "downloading"
	StatusFinished    = "finished"
)

type (
	Config struct {
		BinPath        string        `yaml:"ytdlp_path" env:"YTDLP_PATH" env-default:"yt-dlp"`
		FfmpegLocation string        `yaml:"ffmpeg_location" env:"YTDLP_FFMPEG_LOCATION"`
		MergeFormat    string        `yaml:"merge_format" env:"YTDLP_MERGE_FORMAT" env-default:"mp4"`
		FetchTimeout   time.Duration `yaml:"fetch_timeout" env:"YTDLP_FETCH_TIMEOUT" env-default:"2m"`
	}

	// Progress is a single progress report from the extraction engine. The
	// percent, speed and ETA are left exactly as the engine formatted them.
	Progress struct {
		Status  string
		Percent string
		Speed   string
		ETA     string
	}

	DownloadRequest struct {
		URL       string
		VideoCode string
		AudioCode string

		// Dir is the directory the merged output is written to, and Prefix is
		// prepended to the output file name so the file can be located later.
		Dir    string
		Prefix string
	}

	DownloadResult struct {
		Title string
		Path  string
	}

	// Error wraps a failed invocation of the extraction engine. Message holds
	// the engine's own description of the failure where one was reported.
	Error struct {
		Op      string
		Message string
		Err     error
	}

	// Client drives the yt-dlp binary.
	Client struct {
		config Config
	}
)

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return fmt.Sprintf("yt-dlp %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewClient(config Config) *Client {
	if config.BinPath == "" {
		config.BinPath = "yt-dlp"
	}
	if config.MergeFormat == "" {
		config.MergeFormat = "mp4"
	}

	return &Client{config: config}
}

// FetchFormats retrieves the available formats for a URL without downloading
// anything.
func (c *Client) FetchFormats(ctx context.Context, url string) (*FormatListing, error) {
	if c.config.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.FetchTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.config.BinPath, "--dump-single-json", "--no-playlist", "--no-warnings", "--", url)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	log.Emit(logger.DEBUG, "Fetching formats for %s\n", url)
	if err := cmd.Run(); err != nil {
		return nil, &Error{Op: "fetch formats", Message: engineMessage(stderr.String()), Err: err}
	}

	listing, err := ParseFormats(out.Bytes())
	if err != nil {
		return nil, &Error{Op: "fetch formats", Err: err}
	}

	return listing, nil
}

// Download fetches the selected video and audio streams and merges them with a
// stream copy. onProgress is called synchronously for each progress line the
// engine emits.
func (c *Client) Download(ctx context.Context, req DownloadRequest, onProgress func(Progress)) (*DownloadResult, error) {
	cmd := exec.CommandContext(ctx, c.config.BinPath, c.downloadArgs(req)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &Error{Op: "download", Err: err}
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &Error{Op: "download", Err: err}
	}

	result := &DownloadResult{}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if progress, ok := ParseProgressLine(line); ok {
			if onProgress != nil {
				onProgress(progress)
			}
		} else if title, path, ok := parseDoneLine(line); ok {
			result.Title = title
			result.Path = path
		}
	}

	if err := cmd.Wait(); err != nil {
		return nil, &Error{Op: "download", Message: engineMessage(stderr.String()), Err: err}
	}

	if result.Path == "" {
		path, err := LocateByPrefix(req.Dir, req.Prefix)
		if err != nil {
			return nil, err
		}
		result.Path = path
	}

	return result, nil
}

func (c *Client) downloadArgs(req DownloadRequest) []string {
	args := []string{
		"-f", req.VideoCode + "+" + req.AudioCode,
		"-o", filepath.Join(req.Dir, req.Prefix+"%(title)s.%(ext)s"),
		"--merge-output-format", c.config.MergeFormat,
		"--postprocessor-args", "ffmpeg:-c:v copy -c:a copy",
		"--no-playlist",
		"--newline",
		"--no-colors",
		"--progress",
		"--progress-template", progressTemplate,
		"--print", doneTemplate,
		"--no-simulate",
	}
	if c.config.FfmpegLocation != "" {
		args = append(args, "--ffmpeg-location", c.config.FfmpegLocation)
	}

	return append(args, "--", req.URL)
}

// PercentValue parses the reported percentage, such as " 42.5%", returning
// false when the engine did not report one.
func (p Progress) PercentValue() (float64, bool) {
	value, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(p.Percent), "%"), 64)
	if err != nil {
		return 0, false
	}

	return value, true
}

// ParseProgressLine parses a line printed via the download progress template.
func ParseProgressLine(line string) (Progress, bool) {
	idx := strings.Index(line, progressMarker)
	if idx < 0 {
		return Progress{}, false
	}

	fields := strings.Split(line[idx+len(progressMarker):], "|")
	if len(fields) != 4 {
		return Progress{}, false
	}

	return Progress{
		Status:  strings.TrimSpace(fields[0]),
		Percent: valueOr(fields[1], "0%"),
		Speed:   valueOr(fields[2], "N/A"),
		ETA:     valueOr(fields[3], "N/A"),
	}, true
}

func parseDoneLine(line string) (string, string, bool) {
	idx := strings.Index(line, doneMarker)
	if idx < 0 {
		return "", "", false
	}

	// yt-dlp replaces '|' in file names, so the final separator always
	// precedes the path even when the title contains one.
	rest := line[idx+len(doneMarker):]
	sep := strings.LastIndex(rest, "|")
	if sep < 0 {
		return "", "", false
	}

	return rest[:sep], strings.TrimSpace(rest[sep+1:]), true
}

// LocateByPrefix returns the path of the first file in dir whose name starts
// with prefix.
func LocateByPrefix(dir string, prefix string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) && !isPartial(entry.Name()) {
			return filepath.Join(dir, entry.Name()), nil
		}
	}

	return "", ErrFileNotFound
}

func isPartial(name string) bool {
	return strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl")
}

// engineMessage picks the last ERROR line out of the engine's stderr, falling
// back to the final non-empty line.
func engineMessage(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "ERROR:") {
			return strings.TrimSpace(lines[i])
		}
	}

	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}

	return ""
}

func valueOr(s string, fallback string) string {
	if trimmed := strings.TrimSpace(s); trimmed != "" && trimmed != "NA" {
		return trimmed
	}

	return fallback
}
