// Package miniaudio implements [audio.Backend] on top of miniaudio through
// the malgo cgo bindings. It covers WASAPI, CoreAudio, ALSA, PulseAudio and
// the other platform APIs miniaudio supports.
//
// Streams are opened in shared mode with float32 samples at the negotiated
// native rate and channel count, so miniaudio never resamples or remaps
// channels on our behalf.
package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/audiolimiter/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Backend = (*Backend)(nil)
	_ audio.Stream  = (*stream)(nil)
)

// ErrClosed is returned after [Backend.Close].
var ErrClosed = errors.New("miniaudio: backend closed")

// Backend owns one malgo context.
type Backend struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// New initialises a malgo context using the platform's default backend
// priority list.
func New() (*Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio", "msg", msg)
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	return &Backend{ctx: ctx}, nil
}

// Name implements [audio.Backend].
func (b *Backend) Name() string { return "miniaudio" }

// Devices implements [audio.Backend]. Capture and playback endpoints are
// reported as separate devices even when the hardware is duplex, since the
// platform APIs expose them with distinct IDs.
func (b *Backend) Devices(ctx context.Context) ([]audio.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil, ErrClosed
	}

	var out []audio.Device
	for _, kind := range []struct {
		typ malgo.DeviceType
		dir audio.Direction
	}{
		{malgo.Capture, audio.DirectionInput},
		{malgo.Playback, audio.DirectionOutput},
	} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		infos, err := b.ctx.Devices(kind.typ)
		if err != nil {
			return nil, fmt.Errorf("miniaudio: enumerate %s devices: %w", kind.dir, err)
		}
		for _, info := range infos {
			out = append(out, b.describe(kind.typ, kind.dir, info))
		}
	}
	return out, nil
}

// describe converts a malgo device info, querying its native formats. A
// device whose detail query fails is still listed, with unreported formats.
func (b *Backend) describe(typ malgo.DeviceType, dir audio.Direction, info malgo.DeviceInfo) audio.Device {
	d := audio.Device{
		ID:        info.ID.String(),
		Name:      info.Name(),
		Direction: dir,
		Default:   info.IsDefault != 0,
		Handle:    info.ID,
	}
	full, err := b.ctx.DeviceInfo(typ, info.ID, malgo.Shared)
	if err != nil {
		slog.Debug("miniaudio: device format query failed", "device", d.Name, "err", err)
		return d
	}
	seen := make(map[audio.Format]bool)
	for i := 0; i < int(full.FormatCount) && i < len(full.Formats); i++ {
		nf := full.Formats[i]
		f := audio.Format{SampleRate: int(nf.SampleRate), Channels: int(nf.Channels)}
		if !seen[f] {
			seen[f] = true
			d.Formats = append(d.Formats, f)
		}
	}
	return d
}

// OpenCapture implements [audio.Backend].
func (b *Backend) OpenCapture(dev audio.Device, f audio.Format, fn audio.CaptureFunc) (audio.Stream, error) {
	samples := f.Channels
	return b.open(malgo.Capture, dev, f, func(_, in []byte, frames uint32) {
		buf := audio.Float32View(in)
		if n := int(frames) * samples; n <= len(buf) {
			buf = buf[:n]
		}
		fn(buf)
	})
}

// OpenPlayback implements [audio.Backend].
func (b *Backend) OpenPlayback(dev audio.Device, f audio.Format, fn audio.PlaybackFunc) (audio.Stream, error) {
	samples := f.Channels
	return b.open(malgo.Playback, dev, f, func(out, _ []byte, frames uint32) {
		buf := audio.Float32View(out)
		if n := int(frames) * samples; n <= len(buf) {
			buf = buf[:n]
		}
		fn(buf)
	})
}

func (b *Backend) open(typ malgo.DeviceType, dev audio.Device, f audio.Format, data malgo.DataProc) (audio.Stream, error) {
	if !f.IsConcrete() {
		return nil, fmt.Errorf("%w: %s", audio.ErrUnsupportedFormat, f)
	}
	id, ok := dev.Handle.(malgo.DeviceID)
	if !ok {
		return nil, fmt.Errorf("miniaudio: device %q was not enumerated by this backend", dev.Name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil, ErrClosed
	}

	cfg := malgo.DefaultDeviceConfig(typ)
	cfg.SampleRate = uint32(f.SampleRate)
	switch typ {
	case malgo.Capture:
		cfg.Capture.Format = malgo.FormatF32
		cfg.Capture.Channels = uint32(f.Channels)
		cfg.Capture.DeviceID = id.Pointer()
	case malgo.Playback:
		cfg.Playback.Format = malgo.FormatF32
		cfg.Playback.Channels = uint32(f.Channels)
		cfg.Playback.DeviceID = id.Pointer()
	}

	device, err := malgo.InitDevice(b.ctx.Context, cfg, malgo.DeviceCallbacks{Data: data})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init device %q: %w", dev.Name, err)
	}
	return &stream{device: device}, nil
}

// Close implements [audio.Backend].
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil
	}
	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

// stream wraps one malgo device.
type stream struct {
	mu     sync.Mutex
	device *malgo.Device
}

func (s *stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return ErrClosed
	}
	return s.device.Start()
}

// Close uninitialises the device. miniaudio joins its worker thread there,
// so no data callback runs afterwards.
func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return nil
	}
	s.device.Uninit()
	s.device = nil
	return nil
}
