package log

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestToFields(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name string
		args []any
		want map[string]any
	}{
		{name: "empty", args: nil, want: map[string]any{}},
		{
			name: "pairs",
			args: []any{"version", "1.2.0", "bytes", int64(128), "pending", true, "wait", time.Second},
			want: map[string]any{"version": "1.2.0", "bytes": int64(128), "pending": true, "wait": time.Second},
		},
		{name: "error alone", args: []any{boom}, want: map[string]any{"error": "boom"}},
		{name: "zap field alone", args: []any{zap.Int("bank", 1), "k", "v"}, want: map[string]any{"bank": int64(1), "k": "v"}},
		{name: "unpaired value", args: []any{"k", "v", "dangling"}, want: map[string]any{"k": "v", "!BADKEY": "dangling"}},
		{name: "non-string key", args: []any{7, "v"}, want: map[string]any{"!BADKEY(7)": "v"}},
		{
			name: "url query stripped",
			args: []any{"url", "https://s3.local/fw/app.bin?X-Amz-Signature=abc", "location", "/next?token=1"},
			want: map[string]any{"url": "https://s3.local/fw/app.bin?[redacted]", "location": "/next?[redacted]"},
		},
		{name: "url without query", args: []any{"firmwareURL", "https://cdn/app.bin"}, want: map[string]any{"firmwareURL": "https://cdn/app.bin"}},
		{name: "secrets", args: []any{"password", "hunter2", "secretAccessKey", "xyz"}, want: map[string]any{"password": redacted, "secretAccessKey": redacted}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := zapcore.NewMapObjectEncoder()
			for _, f := range toFields(tt.args...) {
				f.AddTo(enc)
			}

			if len(enc.Fields) != len(tt.want) {
				t.Fatalf("fields = %v, want %v", enc.Fields, tt.want)
			}
			for k, want := range tt.want {
				if got := enc.Fields[k]; got != want {
					t.Errorf("field %q = %#v, want %#v", k, got, want)
				}
			}
		})
	}
}
