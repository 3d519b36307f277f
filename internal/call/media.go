package call

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/core"
	"github.com/pairlink/pairlink/internal/domain"
)

// MediaManager owns the local capture state for the duration of a call:
// the stream handle, the mic flag and the camera facing preference. It is
// the only place local media is mutated. Presence of a stream doubles as
// the busy signal for incoming invites.
type MediaManager struct {
	devices core.DeviceSource
	notify  core.Notifier

	mu     sync.Mutex
	stream core.LocalStream
	kind   domain.CallKind
	mic    bool
	facing domain.Facing
}

func NewMediaManager(devices core.DeviceSource, notify core.Notifier) *MediaManager {
	return &MediaManager{
		devices: devices,
		notify:  notify,
		mic:     true,
		facing:  domain.FacingUser,
	}
}

// Active reports whether local media currently exists — the busy guard.
func (m *MediaManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

func (m *MediaManager) MicEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mic
}

func (m *MediaManager) Facing() domain.Facing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.facing
}

// Acquire captures devices for the call kind, honoring the current facing
// preference. A fresh acquisition always starts unmuted.
func (m *MediaManager) Acquire(ctx context.Context, kind domain.CallKind) error {
	m.mu.Lock()
	if m.stream != nil {
		m.mu.Unlock()
		return domain.ErrCallInProgress
	}
	facing := m.facing
	m.mu.Unlock()

	stream, err := m.devices.Acquire(ctx, kind, facing)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		// Lost the race against a parallel acquisition; keep the first.
		stream.Close()
		return domain.ErrCallInProgress
	}
	m.stream = stream
	m.kind = kind
	m.mic = true
	return nil
}

// AttachTo adds every local track to the transport's outbound set. Kinds
// already attached are skipped by the transport, so calling this twice is
// harmless.
func (m *MediaManager) AttachTo(t core.MediaTransport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return errors.New("no local media to attach")
	}
	for _, track := range m.stream.Tracks() {
		if t.HasTrack(track.Kind()) {
			continue
		}
		if err := t.AddTrack(track); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceVideo switches to the opposite camera: acquires a fresh stream,
// swaps the outbound tracks in place without renegotiation, then releases
// the old stream. The mic mute flag survives the swap. On acquisition
// failure nothing changes — prior tracks stay live and the facing
// preference is not committed.
func (m *MediaManager) ReplaceVideo(ctx context.Context, t core.MediaTransport) error {
	m.mu.Lock()
	if m.stream == nil || m.kind != domain.KindVideo {
		m.mu.Unlock()
		return errors.New("not in a video call")
	}
	next := m.facing.Opposite()
	m.mu.Unlock()

	m.notify.Notice("Switching camera...")
	stream, err := m.devices.Acquire(ctx, domain.KindVideo, next)
	if err != nil {
		m.notify.Notice("Failed to switch camera: " + err.Error())
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		// Call ended while the camera was opening.
		stream.Close()
		return errors.New("call ended during camera switch")
	}

	for _, track := range stream.Tracks() {
		if err := t.ReplaceTrack(track.Kind(), track); err != nil {
			stream.Close()
			m.notify.Notice("Failed to switch camera: " + err.Error())
			return err
		}
	}
	// The transport keeps the per-kind enabled flag across ReplaceTrack,
	// so a muted mic stays muted on the new audio track.
	old := m.stream
	m.stream = stream
	m.facing = next
	old.Close()
	m.notify.Notice("Camera switched.")
	return nil
}

// ToggleMic flips the outbound audio flag. No renegotiation; the track
// stays attached and the transport just pauses sending.
func (m *MediaManager) ToggleMic(t core.MediaTransport) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return false, errors.New("not currently transmitting audio")
	}
	next := !m.mic
	if err := t.SetTrackEnabled(webrtc.RTPCodecTypeAudio, next); err != nil {
		return m.mic, err
	}
	m.mic = next
	if next {
		m.notify.Notice("Microphone unmuted.")
	} else {
		m.notify.Notice("Microphone muted.")
	}
	return next, nil
}

// Release stops all owned tracks and clears state. Called on call end and
// on session leave; safe to call when nothing is held.
func (m *MediaManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return
	}
	m.stream.Close()
	m.stream = nil
	m.kind = ""
	log.Debug().Str("module", "call.media").Msg("local media released")
}
