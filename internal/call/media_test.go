package call

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/pairlink/pairlink/internal/core"
	"github.com/pairlink/pairlink/internal/domain"
)

func quiet() core.Notifier {
	return core.NoticeFunc(func(string) {})
}

func TestAcquireAttachAudioOnly(t *testing.T) {
	dev := &fakeDevices{}
	m := NewMediaManager(dev, quiet())
	tr := newFakeTransport()

	if m.Active() {
		t.Fatal("fresh manager should be inactive")
	}
	if err := m.Acquire(context.Background(), domain.KindAudio); err != nil {
		t.Fatal(err)
	}
	if !m.Active() || !m.MicEnabled() {
		t.Fatal("acquired media should be active and unmuted")
	}
	if err := m.AttachTo(tr); err != nil {
		t.Fatal(err)
	}
	if !tr.HasTrack(webrtc.RTPCodecTypeAudio) {
		t.Fatal("audio track not attached")
	}
	if tr.HasTrack(webrtc.RTPCodecTypeVideo) {
		t.Fatal("audio call must not attach video")
	}
}

func TestAcquireWhileActiveFails(t *testing.T) {
	dev := &fakeDevices{}
	m := NewMediaManager(dev, quiet())
	if err := m.Acquire(context.Background(), domain.KindAudio); err != nil {
		t.Fatal(err)
	}
	if err := m.Acquire(context.Background(), domain.KindVideo); err != domain.ErrCallInProgress {
		t.Fatalf("second acquire: %v", err)
	}
}

func TestAttachIsIdempotent(t *testing.T) {
	dev := &fakeDevices{}
	m := NewMediaManager(dev, quiet())
	tr := newFakeTransport()
	if err := m.Acquire(context.Background(), domain.KindVideo); err != nil {
		t.Fatal(err)
	}
	if err := m.AttachTo(tr); err != nil {
		t.Fatal(err)
	}
	first := tr.trackFor(webrtc.RTPCodecTypeVideo)
	if err := m.AttachTo(tr); err != nil {
		t.Fatal(err)
	}
	if tr.trackFor(webrtc.RTPCodecTypeVideo) != first {
		t.Fatal("second attach replaced an existing track")
	}
}

func TestToggleMic(t *testing.T) {
	dev := &fakeDevices{}
	m := NewMediaManager(dev, quiet())
	tr := newFakeTransport()
	if _, err := m.ToggleMic(tr); err == nil {
		t.Fatal("toggle without media should fail")
	}

	m.Acquire(context.Background(), domain.KindAudio)
	m.AttachTo(tr)

	on, err := m.ToggleMic(tr)
	if err != nil || on {
		t.Fatalf("first toggle should mute: on=%v err=%v", on, err)
	}
	if tr.enabledFor(webrtc.RTPCodecTypeAudio) {
		t.Fatal("transport should have audio paused")
	}
	on, _ = m.ToggleMic(tr)
	if !on || !tr.enabledFor(webrtc.RTPCodecTypeAudio) {
		t.Fatal("second toggle should unmute")
	}
}

func TestReplaceVideoFlipsFacingAndKeepsMute(t *testing.T) {
	dev := &fakeDevices{}
	m := NewMediaManager(dev, quiet())
	tr := newFakeTransport()
	m.Acquire(context.Background(), domain.KindVideo)
	m.AttachTo(tr)
	m.ToggleMic(tr) // muted

	if err := m.ReplaceVideo(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	if dev.lastFacing() != domain.FacingEnvironment {
		t.Fatalf("flip should request the opposite camera, got %s", dev.lastFacing())
	}
	if m.Facing() != domain.FacingEnvironment {
		t.Fatal("facing preference not committed after successful flip")
	}
	if !dev.streams[0].isClosed() {
		t.Fatal("old stream should be closed after the swap")
	}
	if m.MicEnabled() {
		t.Fatal("mute flag lost across the swap")
	}
	if tr.enabledFor(webrtc.RTPCodecTypeAudio) {
		t.Fatal("transport unmuted audio across the swap")
	}

	// Flip back.
	if err := m.ReplaceVideo(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	if m.Facing() != domain.FacingUser {
		t.Fatal("second flip should return to the user camera")
	}
}

func TestReplaceVideoFailureKeepsEverything(t *testing.T) {
	dev := &fakeDevices{}
	m := NewMediaManager(dev, quiet())
	tr := newFakeTransport()
	m.Acquire(context.Background(), domain.KindVideo)
	m.AttachTo(tr)
	before := tr.trackFor(webrtc.RTPCodecTypeVideo)

	dev.fail = errors.New("camera busy")
	if err := m.ReplaceVideo(context.Background(), tr); err == nil {
		t.Fatal("expected flip failure")
	}
	if m.Facing() != domain.FacingUser {
		t.Fatal("failed flip must not commit the facing preference")
	}
	if tr.trackFor(webrtc.RTPCodecTypeVideo) != before {
		t.Fatal("failed flip must keep the prior track live")
	}
	if dev.streams[0].isClosed() {
		t.Fatal("failed flip must not close the live stream")
	}
}

func TestReplaceVideoRequiresVideoCall(t *testing.T) {
	dev := &fakeDevices{}
	m := NewMediaManager(dev, quiet())
	tr := newFakeTransport()
	m.Acquire(context.Background(), domain.KindAudio)
	if err := m.ReplaceVideo(context.Background(), tr); err == nil {
		t.Fatal("flip during an audio call should fail")
	}
}

func TestReleaseClosesStreamAndIsIdempotent(t *testing.T) {
	dev := &fakeDevices{}
	m := NewMediaManager(dev, quiet())
	m.Acquire(context.Background(), domain.KindAudio)

	m.Release()
	if m.Active() {
		t.Fatal("release should clear the busy flag")
	}
	if !dev.streams[0].isClosed() {
		t.Fatal("release should close the stream")
	}
	m.Release() // no panic, no effect
}
