//go:build linux

package devices

import (
	"context"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/pairlink/pairlink/internal/core"
	"github.com/pairlink/pairlink/internal/domain"
)

// Source captures local audio/video via pion/mediadevices.
type Source struct{}

func NewSource() *Source { return &Source{} }

// Acquire opens the microphone and, for video calls, a camera matching the
// facing preference. The caller owns the returned stream and must Close it.
func (s *Source) Acquire(ctx context.Context, kind domain.CallKind, facing domain.Facing) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, &domain.MediaAcquisitionError{Kind: kind, Err: err}
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, &domain.MediaAcquisitionError{Kind: kind, Err: err}
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	constraints := mediadevices.MediaStreamConstraints{
		Codec: selector,
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	}
	if kind == domain.KindVideo {
		deviceID := cameraForFacing(facing)
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			if deviceID != "" {
				c.DeviceID = prop.StringExact(deviceID)
			}
			// Raw formats only: malformed MJPEG nodes poison the VP8 encoder.
			c.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			c.Width = prop.IntRanged{Max: 640}
			c.Height = prop.IntRanged{Max: 480}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		log.Warn().Err(err).Str("module", "devices").Str("kind", string(kind)).Msg("GetUserMedia failed")
		return nil, &domain.MediaAcquisitionError{Kind: kind, Err: err}
	}

	mdTracks := stream.GetTracks()
	tracks := make([]webrtc.TrackLocal, 0, len(mdTracks))
	for _, track := range mdTracks {
		track.OnEnded(func(err error) {
			if err != nil {
				log.Debug().Err(err).Str("module", "devices").Msg("local track ended")
			}
		})
		tracks = append(tracks, track)
	}
	log.Info().Str("module", "devices").Str("kind", string(kind)).Int("tracks", len(tracks)).Msg("local media captured")

	return &localStream{
		tracks: tracks,
		stop: func() {
			for _, t := range mdTracks {
				t.Close()
			}
		},
	}, nil
}

// cameraForFacing picks a camera device for the facing preference. Plain
// V4L2 exposes no facing metadata, so the first enumerated camera stands in
// for "user" and the second, when present, for "environment".
func cameraForFacing(facing domain.Facing) string {
	var cameras []mediadevices.MediaDeviceInfo
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.VideoInput {
			cameras = append(cameras, d)
		}
	}
	if len(cameras) == 0 {
		return ""
	}
	if facing == domain.FacingEnvironment && len(cameras) > 1 {
		return cameras[1].DeviceID
	}
	return cameras[0].DeviceID
}
