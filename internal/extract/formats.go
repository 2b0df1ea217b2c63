package extract

import (
	"encoding/json"
	"fmt"
	"sort"
)

const noCodec = "none"

type (
	VideoFormat struct {
		FormatID string   `json:"format_id"`
		Quality  string   `json:"quality"`
		Ext      string   `json:"ext"`
		Filesize int64    `json:"filesize"`
		FPS      *float64 `json:"fps"`
		VCodec   string   `json:"vcodec"`
	}

	AudioFormat struct {
		FormatID string  `json:"format_id"`
		Ext      string  `json:"ext"`
		ABR      float64 `json:"abr"`
		ACodec   *string `json:"acodec"`
		Filesize int64   `json:"filesize"`
	}

	// FormatListing is the condensed view of the formats a media URL offers:
	// the largest video-only stream per height and every audio-only stream.
	FormatListing struct {
		Title        string          `json:"title"`
		VideoFormats []VideoFormat   `json:"video_formats"`
		AudioFormats []AudioFormat   `json:"audio_formats"`
		BestAudio    *AudioFormat    `json:"best_audio"`
		AllFormats   json.RawMessage `json:"all_formats"`
	}

	rawInfo struct {
		Title   *string         `json:"title"`
		Formats json.RawMessage `json:"formats"`
	}

	rawFormat struct {
		FormatID       string   `json:"format_id"`
		Ext            *string  `json:"ext"`
		VCodec         *string  `json:"vcodec"`
		ACodec         *string  `json:"acodec"`
		Height         *int     `json:"height"`
		FPS            *float64 `json:"fps"`
		ABR            *float64 `json:"abr"`
		Filesize       *float64 `json:"filesize"`
		FilesizeApprox *float64 `json:"filesize_approx"`
	}
)

// ParseFormats condenses the JSON document produced by `yt-dlp --dump-single-json`.
func ParseFormats(data []byte) (*FormatListing, error) {
	var info rawInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode media info: %w", err)
	}

	var formats []rawFormat
	if len(info.Formats) > 0 && string(info.Formats) != "null" {
		if err := json.Unmarshal(info.Formats, &formats); err != nil {
			return nil, fmt.Errorf("decode media formats: %w", err)
		}
	} else {
		info.Formats = json.RawMessage("[]")
	}

	listing := &FormatListing{
		Title:        "video",
		VideoFormats: make([]VideoFormat, 0),
		AudioFormats: make([]AudioFormat, 0),
		AllFormats:   info.Formats,
	}
	if info.Title != nil {
		listing.Title = *info.Title
	}

	byQuality := make(map[string]int)
	for _, f := range formats {
		switch {
		case !isCodec(f.VCodec, noCodec) && isCodec(f.ACodec, noCodec):
			if f.Height == nil || *f.Height == 0 {
				continue
			}

			video := VideoFormat{
				FormatID: f.FormatID,
				Quality:  fmt.Sprintf("%dp", *f.Height),
				Ext:      stringOr(f.Ext, "mp4"),
				Filesize: f.size(),
				FPS:      f.FPS,
				VCodec:   stringOr(f.VCodec, "unknown"),
			}

			if idx, ok := byQuality[video.Quality]; !ok {
				byQuality[video.Quality] = len(listing.VideoFormats)
				listing.VideoFormats = append(listing.VideoFormats, video)
			} else if video.Filesize > listing.VideoFormats[idx].Filesize {
				listing.VideoFormats[idx] = video
			}
		case !isCodec(f.ACodec, noCodec) && isCodec(f.VCodec, noCodec):
			audio := AudioFormat{
				FormatID: f.FormatID,
				Ext:      stringOr(f.Ext, "webm"),
				ACodec:   f.ACodec,
				Filesize: f.size(),
			}
			if f.ABR != nil {
				audio.ABR = *f.ABR
			}

			listing.AudioFormats = append(listing.AudioFormats, audio)
		}
	}

	sort.SliceStable(listing.VideoFormats, func(i, j int) bool {
		return height(listing.VideoFormats[i]) > height(listing.VideoFormats[j])
	})
	sort.SliceStable(listing.AudioFormats, func(i, j int) bool {
		return listing.AudioFormats[i].ABR > listing.AudioFormats[j].ABR
	})

	if len(listing.AudioFormats) > 0 {
		best := listing.AudioFormats[0]
		listing.BestAudio = &best
	}

	return listing, nil
}

func (f rawFormat) size() int64 {
	if f.Filesize != nil && *f.Filesize != 0 {
		return int64(*f.Filesize)
	}
	if f.FilesizeApprox != nil {
		return int64(*f.FilesizeApprox)
	}

	return 0
}

func height(v VideoFormat) int {
	var h int
	fmt.Sscanf(v.Quality, "%dp", &h)
	return h
}

func isCodec(codec *string, expected string) bool {
	return codec != nil && *codec == expected
}

func stringOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}

	return *s
}
