package audio

// Framer slices a stream of float32 samples at the device rate into
// fixed-duration int16 frames at the target rate. Resampling is
// nearest-neighbor sample picking, which is cheap enough to run inside the
// capture callback without missing its deadline.
type Framer struct {
	inputRate int
	targetHz  int
	frameMs   int
	emit      func(frame []int16)

	pending []float32
}

const (
	// DefaultFrameMs is the frame duration streamed on the wire
	DefaultFrameMs = 10
	// DefaultTargetHz is the recognizer's expected sample rate
	DefaultTargetHz = 16000
)

// NewFramer creates a framer. The input rate must be set (or reset) via
// SetInputRate once the actual device rate is known.
func NewFramer(targetHz, frameMs int, emit func(frame []int16)) *Framer {
	if targetHz == 0 {
		targetHz = DefaultTargetHz
	}
	if frameMs == 0 {
		frameMs = DefaultFrameMs
	}
	return &Framer{
		inputRate: targetHz,
		targetHz:  targetHz,
		frameMs:   frameMs,
		emit:      emit,
	}
}

// SetInputRate declares the rate of samples passed to Push. Pending samples
// from a previous rate are discarded.
func (f *Framer) SetInputRate(hz int) {
	f.inputRate = hz
	f.pending = f.pending[:0]
}

// SamplesPerFrame is the number of output samples in one emitted frame
func (f *Framer) SamplesPerFrame() int {
	return f.targetHz * f.frameMs / 1000
}

// inputPerFrame is the number of input samples consumed per emitted frame
func (f *Framer) inputPerFrame() int {
	return f.inputRate * f.frameMs / 1000
}

// Push accumulates samples and emits complete frames. Runs synchronously on
// the caller's goroutine; the emit callback must not block.
func (f *Framer) Push(samples []float32) {
	f.pending = append(f.pending, samples...)

	in := f.inputPerFrame()
	out := f.SamplesPerFrame()
	for len(f.pending) >= in {
		frame := make([]int16, out)
		for i := 0; i < out; i++ {
			frame[i] = floatToPCM16(f.pending[i*f.inputRate/f.targetHz])
		}
		f.pending = f.pending[in:]
		f.emit(frame)
	}
}

// floatToPCM16 clamps and converts one sample
func floatToPCM16(s float32) int16 {
	if s >= 1.0 {
		return 32767
	}
	if s <= -1.0 {
		return -32768
	}
	return int16(s * 32767)
}

// pcm16Bytes serializes a frame as little-endian signed 16-bit samples
func pcm16Bytes(frame []int16) []byte {
	buf := make([]byte, len(frame)*2)
	for i, s := range frame {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return buf
}
