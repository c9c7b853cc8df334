package assistant

import (
	"reflect"
	"testing"
)

func TestLineBufferFeed(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   [][]string
	}{
		{
			name:   "single complete line",
			chunks: []string{"{\"status\":\"thinking\"}\n"},
			want:   [][]string{{"{\"status\":\"thinking\"}"}},
		},
		{
			name:   "two lines in one chunk",
			chunks: []string{"first\nsecond\n"},
			want:   [][]string{{"first", "second"}},
		},
		{
			name:   "partial line held until completed",
			chunks: []string{"{\"status\":\"comp", "leted\"}\n"},
			want:   [][]string{nil, {"{\"status\":\"completed\"}"}},
		},
		{
			name:   "crlf stripped",
			chunks: []string{"line\r\n"},
			want:   [][]string{{"line"}},
		},
		{
			name:   "newline alone completes earlier partial",
			chunks: []string{"tail", "\n"},
			want:   [][]string{nil, {"tail"}},
		},
		{
			name:   "empty chunk yields nothing",
			chunks: []string{""},
			want:   [][]string{nil},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf LineBuffer
			for i, chunk := range tt.chunks {
				got := buf.Feed([]byte(chunk))
				if !reflect.DeepEqual(got, tt.want[i]) {
					t.Errorf("Feed(chunk %d) = %q, want %q", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestLineBufferFlush(t *testing.T) {
	var buf LineBuffer

	buf.Feed([]byte("complete\npartial"))
	if got := buf.Flush(); got != "partial" {
		t.Errorf("Flush() = %q, want %q", got, "partial")
	}
	if got := buf.Flush(); got != "" {
		t.Errorf("Flush() after flush = %q, want empty", got)
	}
}

func TestLineBufferFlushEmpty(t *testing.T) {
	var buf LineBuffer

	buf.Feed([]byte("done\n"))
	if got := buf.Flush(); got != "" {
		t.Errorf("Flush() = %q, want empty after fully consumed input", got)
	}
}
