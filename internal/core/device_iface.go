package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/pairlink/pairlink/internal/domain"
)

// LocalStream owns a set of captured outbound tracks. Close stops the
// underlying capture devices.
type LocalStream interface {
	Tracks() []webrtc.TrackLocal
	Close()
}

// DeviceSource acquires capture devices. Audio is always captured; video
// only for video calls, honoring the facing preference.
type DeviceSource interface {
	Acquire(ctx context.Context, kind domain.CallKind, facing domain.Facing) (LocalStream, error)
}
