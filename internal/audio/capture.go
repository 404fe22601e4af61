package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/merkylen-ltd/minbarai-core-sub000/internal/logger"
)

// Sentinel errors mirroring the failure classes a caller needs to
// distinguish when acquiring a microphone.
var (
	// ErrPermissionDenied means the backend refused access to the device
	ErrPermissionDenied = errors.New("audio device access denied")
	// ErrNoDevice means no capture device is available
	ErrNoDevice = errors.New("no audio capture device found")
	// ErrCaptureUnsupported means the host cannot capture in any supported format
	ErrCaptureUnsupported = errors.New("audio capture not supported on this host")
)

// DeviceRequest describes the preferred capture configuration. SampleRate is
// a preference: the first acquisition attempt demands it, the fallback lets
// the device keep its native rate and the framer resamples.
type DeviceRequest struct {
	DeviceName string
	SampleRate int
	Channels   int
}

// deviceHandle abstracts the running capture device so tests can stand in
// for real hardware.
type deviceHandle interface {
	Start() error
	Stop() error
	Uninit()
	SampleRate() int
}

// deviceOpener opens a capture device. exact demands the requested sample
// rate; otherwise the device's native configuration is accepted.
type deviceOpener func(req DeviceRequest, exact bool, onSamples func([]float32)) (deviceHandle, error)

// Capturer acquires a microphone and delivers float32 mono samples to a
// callback. Acquisition tries the exact requested configuration first and
// degrades to the device's native configuration before giving up.
type Capturer struct {
	request DeviceRequest
	open    deviceOpener
	closer  func()
	log     *logger.ContextLogger

	// OnConfigured, when set, is invoked with the actual device rate after
	// acquisition succeeds and before the first sample is delivered.
	OnConfigured func(sampleRate int)

	mu      sync.Mutex
	device  deviceHandle
	running bool
	closed  bool
}

// NewCapturer creates a capturer backed by a real malgo context
func NewCapturer(req DeviceRequest, log *logger.Logger) (*Capturer, error) {
	if req.Channels == 0 {
		req.Channels = 1
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnsupported, err)
	}

	clog := log.With("audio")
	c := &Capturer{
		request: req,
		open:    malgoOpener(ctx, req.DeviceName, clog),
		closer: func() {
			_ = ctx.Uninit()
			ctx.Free()
		},
		log: clog,
	}
	return c, nil
}

// newCapturerWithOpener wires a fake device layer for tests
func newCapturerWithOpener(req DeviceRequest, open deviceOpener, log *logger.Logger) *Capturer {
	if req.Channels == 0 {
		req.Channels = 1
	}
	return &Capturer{
		request: req,
		open:    open,
		log:     log.With("audio"),
	}
}

// Start acquires the device and begins delivering samples to onSamples.
// onSamples runs on the audio callback thread and must not block.
func (c *Capturer) Start(onSamples func([]float32)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("capturer already closed")
	}
	if c.running {
		return fmt.Errorf("capturer already running")
	}

	// First attempt demands the requested rate outright
	device, err := c.open(c.request, true, onSamples)
	if err != nil {
		c.log.Warn("Exact capture config rejected (%v), retrying with device defaults", err)
		device, err = c.open(c.request, false, onSamples)
	}
	if err != nil {
		return err
	}

	if c.OnConfigured != nil {
		c.OnConfigured(device.SampleRate())
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("%w: %v", ErrCaptureUnsupported, err)
	}

	c.device = device
	c.running = true

	if device.SampleRate() != c.request.SampleRate {
		c.log.Info("Device capturing at %d Hz (requested %d Hz), resampling locally",
			device.SampleRate(), c.request.SampleRate)
	}
	return nil
}

// SampleRate reports the rate the running device actually delivers
func (c *Capturer) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return c.request.SampleRate
	}
	return c.device.SampleRate()
}

// Stop halts capture but keeps the capturer reusable
func (c *Capturer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false

	if c.device != nil {
		_ = c.device.Stop()
		c.device.Uninit()
		c.device = nil
	}
	return nil
}

// Close releases the device and the backend context. Safe to call more than
// once; the backend throws on a double free, so the guard is load-bearing.
func (c *Capturer) Close() error {
	if err := c.Stop(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.closer != nil {
		c.closer()
	}
	return nil
}

// malgoDevice adapts *malgo.Device to deviceHandle
type malgoDevice struct {
	device *malgo.Device
}

func (d *malgoDevice) Start() error    { return d.device.Start() }
func (d *malgoDevice) Stop() error     { return d.device.Stop() }
func (d *malgoDevice) Uninit()         { d.device.Uninit() }
func (d *malgoDevice) SampleRate() int { return int(d.device.SampleRate()) }

// malgoOpener builds the real device layer on top of an allocated context
func malgoOpener(ctx *malgo.AllocatedContext, deviceName string, log *logger.ContextLogger) deviceOpener {
	return func(req DeviceRequest, exact bool, onSamples func([]float32)) (deviceHandle, error) {
		deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
		deviceConfig.Capture.Format = malgo.FormatF32
		deviceConfig.Capture.Channels = uint32(req.Channels)
		deviceConfig.Alsa.NoMMap = 1
		if exact {
			deviceConfig.SampleRate = uint32(req.SampleRate)
		}

		// Pick the configured device by name, falling back to default
		if deviceName != "" {
			infos, err := ctx.Devices(malgo.Capture)
			if err == nil {
				found := false
				for _, info := range infos {
					if info.Name() == deviceName {
						deviceConfig.Capture.DeviceID = info.ID.Pointer()
						found = true
						break
					}
				}
				if !found {
					log.Warn("Device '%s' not found, using default", deviceName)
				}
			}
		}

		callbackCount := 0
		onRecvFrames := func(pOutput, pInput []byte, frameCount uint32) {
			samples := bytesToFloat32(pInput)
			if len(samples) == 0 {
				return
			}

			callbackCount++
			if callbackCount%100 == 0 {
				log.DebugWithFields("Capture level", map[string]any{
					"rms":    rmsLevel(samples),
					"frames": frameCount,
				})
			}

			onSamples(samples)
		}

		device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
			Data: onRecvFrames,
		})
		if err != nil {
			return nil, classifyOpenError(err)
		}
		return &malgoDevice{device: device}, nil
	}
}

// classifyOpenError maps a backend device failure onto the acquisition
// sentinels callers branch on
func classifyOpenError(err error) error {
	if errors.Is(err, malgo.ErrAccessDenied) {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrNoDevice, err)
}

// bytesToFloat32 reinterprets the raw F32LE callback buffer
func bytesToFloat32(data []byte) []float32 {
	n := len(data) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}

// rmsLevel computes the mean square level for the capture debug probe
func rmsLevel(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
