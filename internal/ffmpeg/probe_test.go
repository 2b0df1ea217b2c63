package ffmpeg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ParseFfmpegError(t *testing.T) {
	tests := []struct {
		name     string
		input    error
		expected string
	}{
		{
			name:     "extracts nested error string",
			input:    errors.New("ffprobe version 6.0 blah blah\nmessage: {\"error\": {\"code\": -2, \"string\": \"No such file or directory\"}}"),
			expected: "No such file or directory",
		},
		{
			name:     "falls back to raw message when JSON is malformed",
			input:    errors.New("banner\nmessage: {not json}"),
			expected: "{not json}",
		},
		{
			name:     "returns original error without message block",
			input:    errors.New("exec: \"ffprobe\": executable file not found in $PATH"),
			expected: "exec: \"ffprobe\": executable file not found in $PATH",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.EqualError(t, parseFfmpegError(test.input), test.expected)
		})
	}
}

func Test_Prober_Enabled(t *testing.T) {
	assert.True(t, NewProber(Config{Verify: true}).Enabled())
	assert.False(t, NewProber(Config{}).Enabled())
}
