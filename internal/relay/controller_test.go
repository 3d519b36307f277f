package relay

import (
	"strings"
	"testing"

	"github.com/pairlink/pairlink/internal/core"
	"github.com/pairlink/pairlink/internal/protocol"
)

func newTestConn() *WsRelayConn {
	return &WsRelayConn{send: make(chan core.Frame, 32)}
}

// drain decodes every frame buffered for the connection.
func drain(t *testing.T, c *WsRelayConn) []*protocol.Message {
	t.Helper()
	var out []*protocol.Message
	for {
		select {
		case f := <-c.send:
			msg, err := protocol.Decode(f)
			if err != nil {
				t.Fatalf("relay sent undecodable frame: %v", err)
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestGenerateKeyFlow(t *testing.T) {
	ctl := NewController(NewRegistry())
	conn := newTestConn()

	ctl.handleMessage("a", conn, []byte(`{"type":"generate_key"}`))

	msgs := drain(t, conn)
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeKeyGenerated {
		t.Fatalf("expected key_generated, got %+v", msgs)
	}
	if msgs[0].Key == "" {
		t.Fatal("key_generated carried no key")
	}
	if ctl.Reg.MemberCount(msgs[0].Key) != 0 {
		t.Fatal("generated room should start empty")
	}
}

func TestJoinFillAnnouncements(t *testing.T) {
	ctl := NewController(NewRegistry())
	key := ctl.Reg.GenerateKey()
	c1, c2 := newTestConn(), newTestConn()

	ctl.handleMessage("a", c1, []byte(`{"type":"join_key","key":"`+string(key)+`"}`))
	msgs := drain(t, c1)
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeJoined || msgs[0].Peers != 1 {
		t.Fatalf("first joiner: %+v", msgs)
	}

	// Keys are normalized on the way in, lowercase works.
	ctl.handleMessage("b", c2, []byte(`{"type":"join_key","key":"`+strings.ToLower(string(key))+`"}`))

	// First occupant gets the negotiation kick.
	msgs = drain(t, c1)
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeStartCall {
		t.Fatalf("first occupant on fill: %+v", msgs)
	}
	// Second learns membership and that a peer is present.
	msgs = drain(t, c2)
	if len(msgs) != 2 || msgs[0].Type != protocol.TypeJoined || msgs[0].Peers != 2 || msgs[1].Type != protocol.TypePeerJoined {
		t.Fatalf("second joiner: %+v", msgs)
	}
}

func TestJoinErrorReasons(t *testing.T) {
	ctl := NewController(NewRegistry())
	conn := newTestConn()

	ctl.handleMessage("a", conn, []byte(`{"type":"join_key","key":"NOROOM"}`))
	msgs := drain(t, conn)
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeJoinError || msgs[0].Reason != "not_found" {
		t.Fatalf("unknown key: %+v", msgs)
	}

	key := ctl.Reg.GenerateKey()
	ctl.handleMessage("a", newTestConn(), []byte(`{"type":"join_key","key":"`+string(key)+`"}`))
	ctl.handleMessage("b", newTestConn(), []byte(`{"type":"join_key","key":"`+string(key)+`"}`))
	ctl.handleMessage("c", conn, []byte(`{"type":"join_key","key":"`+string(key)+`"}`))
	msgs = drain(t, conn)
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeJoinError || msgs[0].Reason != "full" {
		t.Fatalf("full room: %+v", msgs)
	}
}

func TestForwardNeverEchoes(t *testing.T) {
	ctl := NewController(NewRegistry())
	key := ctl.Reg.GenerateKey()
	c1, c2 := newTestConn(), newTestConn()
	ctl.handleMessage("a", c1, []byte(`{"type":"join_key","key":"`+string(key)+`"}`))
	ctl.handleMessage("b", c2, []byte(`{"type":"join_key","key":"`+string(key)+`"}`))
	drain(t, c1)
	drain(t, c2)

	raw := `{"type":"incoming_call","key":"` + string(key) + `","callType":"video"}`
	ctl.handleMessage("a", c1, []byte(raw))

	if msgs := drain(t, c1); len(msgs) != 0 {
		t.Fatalf("sender must not receive its own signal: %+v", msgs)
	}
	msgs := drain(t, c2)
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeIncomingCall || string(msgs[0].CallType) != "video" {
		t.Fatalf("roommate should get the signal verbatim: %+v", msgs)
	}
}

func TestForwardWithoutRoommateDrops(t *testing.T) {
	ctl := NewController(NewRegistry())
	key := ctl.Reg.GenerateKey()
	c1 := newTestConn()
	ctl.handleMessage("a", c1, []byte(`{"type":"join_key","key":"`+string(key)+`"}`))
	drain(t, c1)

	ctl.handleMessage("a", c1, []byte(`{"type":"offer","key":"`+string(key)+`","sdp":{"type":"offer","sdp":"v=0"}}`))
	if msgs := drain(t, c1); len(msgs) != 0 {
		t.Fatalf("lone member signal should be dropped, got %+v", msgs)
	}
}

func TestLeaveNotifiesPeer(t *testing.T) {
	ctl := NewController(NewRegistry())
	key := ctl.Reg.GenerateKey()
	c1, c2 := newTestConn(), newTestConn()
	ctl.handleMessage("a", c1, []byte(`{"type":"join_key","key":"`+string(key)+`"}`))
	ctl.handleMessage("b", c2, []byte(`{"type":"join_key","key":"`+string(key)+`"}`))
	drain(t, c1)
	drain(t, c2)

	ctl.handleMessage("a", c1, []byte(`{"type":"leave_key","key":"`+string(key)+`"}`))
	msgs := drain(t, c2)
	if len(msgs) != 1 || msgs[0].Type != protocol.TypePeerLeft {
		t.Fatalf("remaining member should see peer_left: %+v", msgs)
	}
}

func TestDisconnectNotifiesPeerLikeLeave(t *testing.T) {
	ctl := NewController(NewRegistry())
	key := ctl.Reg.GenerateKey()
	c1, c2 := newTestConn(), newTestConn()
	ctl.handleMessage("a", c1, []byte(`{"type":"join_key","key":"`+string(key)+`"}`))
	ctl.handleMessage("b", c2, []byte(`{"type":"join_key","key":"`+string(key)+`"}`))
	drain(t, c1)
	drain(t, c2)

	ctl.onDisconnect("a", c1)
	msgs := drain(t, c2)
	if len(msgs) != 1 || msgs[0].Type != protocol.TypePeerLeft {
		t.Fatalf("dropped socket should read as peer_left: %+v", msgs)
	}
}

func TestGenerateKeyRateLimited(t *testing.T) {
	ctl := NewController(NewRegistry())
	conn := newTestConn()
	for i := 0; i < defaultJoinLimit; i++ {
		ctl.handleMessage("a", conn, []byte(`{"type":"generate_key"}`))
	}
	drain(t, conn)

	ctl.handleMessage("a", conn, []byte(`{"type":"generate_key"}`))
	if msgs := drain(t, conn); len(msgs) != 0 {
		t.Fatalf("over-limit generate should be dropped, got %+v", msgs)
	}
}
