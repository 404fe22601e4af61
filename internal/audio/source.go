package audio

import (
	"fmt"

	"github.com/merkylen-ltd/minbarai-core-sub000/internal/logger"
	"github.com/merkylen-ltd/minbarai-core-sub000/internal/protocol"
)

// Chunk is an opaque binary frame ready for wire transmission. Chunks carry
// no sequence number; ordering comes from the single ordered binary stream.
type Chunk []byte

// Source produces the outbound audio chunk stream for one session
type Source interface {
	// Start acquires the device and begins producing chunks
	Start() error
	// Stop halts production and releases the microphone
	Stop() error
	// Chunks is the ordered stream of wire-ready frames
	Chunks() <-chan Chunk
	// Mode reports the wire encoding of the produced chunks
	Mode() protocol.CaptureMode
	// SampleRate is the rate declared in the session handshake
	SampleRate() int
}

// Config holds source construction parameters
type Config struct {
	Mode       protocol.CaptureMode
	DeviceName string
	TargetHz   int
	FrameMs    int
	// Queue depth for produced chunks before the producer starts dropping
	ChunkBuffer int
}

// NewSource builds the capture pipeline for the selected mode. CaptureModeAuto
// must be resolved through SelectMode before calling.
func NewSource(cfg Config, log *logger.Logger) (Source, error) {
	if cfg.TargetHz == 0 {
		cfg.TargetHz = DefaultTargetHz
	}
	if cfg.FrameMs == 0 {
		cfg.FrameMs = DefaultFrameMs
	}
	if cfg.ChunkBuffer == 0 {
		cfg.ChunkBuffer = 100
	}

	switch cfg.Mode {
	case protocol.CaptureModePCM16:
		capturer, err := NewCapturer(DeviceRequest{
			DeviceName: cfg.DeviceName,
			SampleRate: cfg.TargetHz,
			Channels:   1,
		}, log)
		if err != nil {
			return nil, err
		}
		return newPCMSource(capturer, cfg, log), nil

	case protocol.CaptureModeOpus:
		capturer, err := NewCapturer(DeviceRequest{
			DeviceName: cfg.DeviceName,
			SampleRate: opusSampleRate,
			Channels:   1,
		}, log)
		if err != nil {
			return nil, err
		}
		return newOpusSource(capturer, cfg, log)

	default:
		return nil, fmt.Errorf("unknown capture mode %q", cfg.Mode)
	}
}

// PCMSource streams fixed-duration raw PCM16LE frames
type PCMSource struct {
	capturer *Capturer
	framer   *Framer
	chunks   chan Chunk
	targetHz int
	log      *logger.ContextLogger
}

func newPCMSource(capturer *Capturer, cfg Config, log *logger.Logger) *PCMSource {
	s := &PCMSource{
		capturer: capturer,
		chunks:   make(chan Chunk, cfg.ChunkBuffer),
		targetHz: cfg.TargetHz,
		log:      log.With("audio"),
	}
	s.framer = NewFramer(cfg.TargetHz, cfg.FrameMs, s.emitFrame)
	// The device may keep its native rate; the framer resamples from it
	capturer.OnConfigured = s.framer.SetInputRate
	return s
}

func (s *PCMSource) emitFrame(frame []int16) {
	select {
	case s.chunks <- pcm16Bytes(frame):
	default:
		s.log.Warn("Chunk queue full, dropping %d bytes of audio", len(frame)*2)
	}
}

// Start acquires the microphone and begins framing
func (s *PCMSource) Start() error {
	return s.capturer.Start(s.framer.Push)
}

// Stop releases the microphone
func (s *PCMSource) Stop() error {
	return s.capturer.Close()
}

func (s *PCMSource) Chunks() <-chan Chunk { return s.chunks }

func (s *PCMSource) Mode() protocol.CaptureMode { return protocol.CaptureModePCM16 }

func (s *PCMSource) SampleRate() int { return s.targetHz }
