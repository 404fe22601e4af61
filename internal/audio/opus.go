package audio

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"github.com/merkylen-ltd/minbarai-core-sub000/internal/logger"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/protocol"
)

const (
	// Opus wants one of its supported rates; 48kHz keeps the encoder happy
	// on every backend
	opusSampleRate = 48000
	// Largest packet the encoder may produce for one frame
	opusMaxPacket = 1275
)

// OpusSource streams Opus-encoded frames. Each 10ms slice of captured audio
// becomes one packet, encoded synchronously on the capture path so delivery
// jitter stays bounded by the encoder, not the scheduler.
type OpusSource struct {
	capturer *Capturer
	framer   *Framer
	encoder  *opus.Encoder
	chunks   chan Chunk
	log      *logger.ContextLogger
}

func newOpusSource(capturer *Capturer, cfg Config, log *logger.Logger) (*OpusSource, error) {
	encoder, err := opus.NewEncoder(opusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		capturer.Close()
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnsupported, err)
	}

	s := &OpusSource{
		capturer: capturer,
		encoder:  encoder,
		chunks:   make(chan Chunk, cfg.ChunkBuffer),
		log:      log.With("audio"),
	}
	// Frame at the encoder's rate regardless of what the device delivers
	s.framer = NewFramer(opusSampleRate, cfg.FrameMs, s.encodeFrame)
	capturer.OnConfigured = s.framer.SetInputRate
	return s, nil
}

func (s *OpusSource) encodeFrame(frame []int16) {
	buf := make([]byte, opusMaxPacket)
	n, err := s.encoder.Encode(frame, buf)
	if err != nil {
		s.log.Warn("Opus encode failed, dropping frame: %v", err)
		return
	}
	if n == 0 {
		// Encoder produced nothing for this slice; skip rather than send
		// an empty packet
		return
	}

	select {
	case s.chunks <- Chunk(buf[:n]):
	default:
		s.log.Warn("Chunk queue full, dropping opus packet (%d bytes)", n)
	}
}

// Start acquires the microphone and begins encoding
func (s *OpusSource) Start() error {
	return s.capturer.Start(s.framer.Push)
}

// Stop releases the microphone
func (s *OpusSource) Stop() error {
	return s.capturer.Close()
}

func (s *OpusSource) Chunks() <-chan Chunk { return s.chunks }

func (s *OpusSource) Mode() protocol.CaptureMode { return protocol.CaptureModeOpus }

func (s *OpusSource) SampleRate() int { return opusSampleRate }
