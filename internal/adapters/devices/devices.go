// Package devices implements core.DeviceSource. Real capture goes through
// pion/mediadevices and is only available on Linux (V4L2 camera + malgo
// microphone drivers); elsewhere Acquire reports a typed acquisition error
// so the call layer can send reject(media_failure) instead of crashing.
package devices

import (
	"github.com/pion/webrtc/v4"
)

// localStream is the owned set of capture tracks handed to the call layer.
type localStream struct {
	tracks []webrtc.TrackLocal
	stop   func()
}

func (s *localStream) Tracks() []webrtc.TrackLocal { return s.tracks }

func (s *localStream) Close() {
	if s.stop != nil {
		s.stop()
		s.stop = nil
	}
}
