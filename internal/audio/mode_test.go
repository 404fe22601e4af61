package audio

import (
	"testing"

	"github.com/merkylen-ltd/minbarai-core-sub000/internal/protocol"
)

func TestSelectMode(t *testing.T) {
	cases := []struct {
		name      string
		preferred protocol.CaptureMode
		caps      Capabilities
		want      protocol.CaptureMode
		wantErr   bool
	}{
		{
			name:      "auto prefers pcm16 with raw capture",
			preferred: protocol.CaptureModeAuto,
			caps:      Capabilities{HasRawCapture: true, HasOpusEncoder: true},
			want:      protocol.CaptureModePCM16,
		},
		{
			name:      "auto falls back to opus without raw capture",
			preferred: protocol.CaptureModeAuto,
			caps:      Capabilities{HasRawCapture: false, HasOpusEncoder: true},
			want:      protocol.CaptureModeOpus,
		},
		{
			name:      "auto fails with no capabilities",
			preferred: protocol.CaptureModeAuto,
			caps:      Capabilities{},
			wantErr:   true,
		},
		{
			name:      "empty mode behaves like auto",
			preferred: "",
			caps:      Capabilities{HasRawCapture: true},
			want:      protocol.CaptureModePCM16,
		},
		{
			name:      "explicit pcm16 overrides capabilities",
			preferred: protocol.CaptureModePCM16,
			caps:      Capabilities{},
			want:      protocol.CaptureModePCM16,
		},
		{
			name:      "explicit opus overrides capabilities",
			preferred: protocol.CaptureModeOpus,
			caps:      Capabilities{HasRawCapture: true},
			want:      protocol.CaptureModeOpus,
		},
		{
			name:      "unknown mode rejected",
			preferred: protocol.CaptureMode("FLAC"),
			caps:      Capabilities{HasRawCapture: true},
			wantErr:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SelectMode(tc.preferred, tc.caps)
			if tc.wantErr {
				if err == nil {
					t.Fatal("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectMode failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("Expected mode %s, got %s", tc.want, got)
			}
		})
	}
}
