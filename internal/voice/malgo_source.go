package voice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MitudruDutta/MediRep-AI-sub001/internal/audio"
)

const malgoPeriodMS = 20

// MalgoSource captures microphone audio through miniaudio. One instance
// drives one device for one session.
type MalgoSource struct {
	sampleRate int

	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	frames   chan Frame
	started  bool

	stopOnce sync.Once
	stopErr  error
}

func NewMalgoSource(sampleRate int) *MalgoSource {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &MalgoSource{sampleRate: sampleRate}
}

// Start opens the default capture device and begins delivering frames.
// Device-layer failures are classified into the capture error taxonomy.
func (m *MalgoSource) Start(ctx context.Context) (<-chan Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil, fmt.Errorf("capture source already started")
	}

	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime
	malgoCtx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: init audio context: %v", ErrCaptureUnsupported, err)
	}

	frames := make(chan Frame, 64)
	sampleRate := m.sampleRate

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.PeriodSizeInMilliseconds = malgoPeriodMS

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			pcm := make([]byte, len(input))
			copy(pcm, input)
			select {
			case frames <- Frame{PCM: pcm, SampleRate: sampleRate}:
			default:
				// Consumer stalled; dropping the frame beats blocking the
				// device callback thread.
			}
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, classifyCaptureError("init capture device", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		return nil, classifyCaptureError("start capture device", err)
	}

	m.malgoCtx = malgoCtx
	m.device = device
	m.frames = frames
	m.started = true
	return frames, nil
}

// Stop releases the device and closes the frame stream. Safe to call more
// than once and before Start.
func (m *MalgoSource) Stop() error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		device := m.device
		malgoCtx := m.malgoCtx
		frames := m.frames
		m.device = nil
		m.malgoCtx = nil
		m.mu.Unlock()

		if device != nil {
			device.Stop()
			device.Uninit()
		}
		if malgoCtx != nil {
			m.stopErr = malgoCtx.Uninit()
			malgoCtx.Free()
		}
		if frames != nil {
			close(frames)
		}
	})
	return m.stopErr
}

// classifyCaptureError maps miniaudio failure text onto the sentinel capture
// errors. miniaudio does not expose structured codes through this binding,
// so the match is on the message.
func classifyCaptureError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied") || strings.Contains(msg, "access"):
		return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, op, err)
	case strings.Contains(msg, "no device") || strings.Contains(msg, "not found") || strings.Contains(msg, "no backend"):
		return fmt.Errorf("%w: %s: %v", ErrDeviceNotFound, op, err)
	case strings.Contains(msg, "busy") || strings.Contains(msg, "in use"):
		return fmt.Errorf("%w: %s: %v", ErrDeviceBusy, op, err)
	default:
		return fmt.Errorf("%w: %s: %v", ErrCaptureUnsupported, op, err)
	}
}
