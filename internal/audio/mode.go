package audio

import (
	"fmt"

	"github.com/gen2brain/malgo"

	"github.com/merkylen-ltd/minbarai-core-sub000/internal/protocol"
)

// Capabilities is the structured result of probing the local audio stack.
// Keeping the probe separate from the decision makes mode selection a pure
// function that tests can drive without hardware.
type Capabilities struct {
	// HasRawCapture means the host can deliver raw sample callbacks with
	// low enough latency for fixed 10ms framing
	HasRawCapture bool
	// HasOpusEncoder means an Opus encoder is available as the fallback
	// encoding
	HasOpusEncoder bool
}

// DetectCapabilities probes the local audio stack
func DetectCapabilities() Capabilities {
	caps := Capabilities{
		// The encoder is linked in; it only fails at construction time
		HasOpusEncoder: true,
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return caps
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	caps.HasRawCapture = err == nil && len(infos) > 0
	return caps
}

// SelectMode resolves the configured capture mode against local
// capabilities. Auto prefers raw PCM16 framing and falls back to Opus;
// an explicit mode is honored as-is.
func SelectMode(preferred protocol.CaptureMode, caps Capabilities) (protocol.CaptureMode, error) {
	switch preferred {
	case protocol.CaptureModePCM16, protocol.CaptureModeOpus:
		return preferred, nil
	case protocol.CaptureModeAuto, "":
		if caps.HasRawCapture {
			return protocol.CaptureModePCM16, nil
		}
		if caps.HasOpusEncoder {
			return protocol.CaptureModeOpus, nil
		}
		return "", fmt.Errorf("%w: no usable capture mode", ErrCaptureUnsupported)
	default:
		return "", fmt.Errorf("unknown capture mode %q", preferred)
	}
}
