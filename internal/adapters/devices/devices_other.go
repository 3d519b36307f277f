//go:build !linux

package devices

import (
	"context"
	"errors"

	"github.com/pairlink/pairlink/internal/core"
	"github.com/pairlink/pairlink/internal/domain"
)

// Source is a stub on non-Linux platforms: mediadevices capture needs
// platform drivers we only wire for V4L2/malgo.
type Source struct{}

func NewSource() *Source { return &Source{} }

var errNoCapture = errors.New("media capture not supported on this platform")

func (s *Source) Acquire(_ context.Context, kind domain.CallKind, _ domain.Facing) (core.LocalStream, error) {
	return nil, &domain.MediaAcquisitionError{Kind: kind, Err: errNoCapture}
}
