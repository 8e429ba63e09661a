package dm

import (
	"bytes"
	"testing"
	"time"

	"github.com/ezmesh/meshdm/pkg/protocol"
)

// teachPathAfter floods one text to b through via and returns the path
// of the route teach b answers with, which exposes b's cached route.
func teachPathAfter(t *testing.T, a, b *node, via ...byte) []byte {
	t.Helper()

	if _, err := a.engine.Send(b.key(), "probe"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	texts := a.transport.takeOfKind(protocol.PayloadTxtMsg)
	if len(texts) != 1 {
		t.Fatalf("sent %d texts, want 1", len(texts))
	}
	b.receive(texts[0], via...)

	teaches := b.transport.takeOfKind(protocol.PayloadPath)
	if len(teaches) != 1 {
		t.Fatalf("got %d teaches, want 1", len(teaches))
	}
	return teaches[0].path
}

func TestRouteAcceptanceIsMonotonic(t *testing.T) {
	a, b, _ := newPair(t)
	hops := distinctHops(3, a.hop(), b.hop())

	// A two-repeater flood seeds the route.
	got := teachPathAfter(t, a, b, hops[0], hops[1])
	want := []byte{b.hop(), hops[1], hops[0], a.hop()}
	if !bytes.Equal(got, want) {
		t.Fatalf("teach path = %v, want %v", got, want)
	}

	// A longer traversal does not displace it.
	got = teachPathAfter(t, a, b, hops[0], hops[1], hops[2])
	if !bytes.Equal(got, want) {
		t.Fatalf("teach path after longer flood = %v, want %v", got, want)
	}

	// An adjacent arrival, strictly shorter, does.
	got = teachPathAfter(t, a, b)
	if want := []byte{b.hop(), a.hop()}; !bytes.Equal(got, want) {
		t.Fatalf("teach path after adjacent flood = %v, want %v", got, want)
	}
}

func TestAgedRouteProbesOnceThenRidesRefresh(t *testing.T) {
	a, b, clock := newPair(t)
	handshake(t, a, b)

	clock.advance(RouteRefreshInterval + time.Second)

	if _, err := a.engine.Send(b.key(), "aged"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	probe := a.transport.takeOfKind(protocol.PayloadTxtMsg)
	if probe[0].route != protocol.RouteFlood {
		t.Fatalf("aged route send = %v, want RouteFlood", probe[0].route)
	}

	// The probe pushed the refresh timestamp, so the cached route is
	// trusted again until the next interval.
	if _, err := a.engine.Send(b.key(), "after probe"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	next := a.transport.takeOfKind(protocol.PayloadTxtMsg)
	if next[0].route != protocol.RouteDirect {
		t.Fatalf("send after probe = %v, want RouteDirect", next[0].route)
	}
}

func TestDirectArrivalGetsPlainAck(t *testing.T) {
	a, b, _ := newPair(t)
	handshake(t, a, b)

	if _, err := a.engine.Send(b.key(), "direct hop"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	texts := a.transport.takeOfKind(protocol.PayloadTxtMsg)
	if texts[0].route != protocol.RouteDirect {
		t.Fatalf("route = %v, want RouteDirect", texts[0].route)
	}
	b.receive(texts[0])

	// Direct arrivals are answered with a bare ack, no route teach.
	acks := b.transport.takeOfKind(protocol.PayloadAck)
	if len(acks) != 1 {
		t.Fatalf("got %d acks, want 1", len(acks))
	}
	if acks[0].route != protocol.RouteDirect {
		t.Fatalf("ack route = %v, want RouteDirect", acks[0].route)
	}

	a.receive(acks[0])
	msgs := a.engine.Messages(b.key())
	if !msgs[len(msgs)-1].Acked {
		t.Fatalf("direct ack not applied")
	}
}

func TestTaughtRouteRidesPiggybackedAck(t *testing.T) {
	a, b, _ := newPair(t)
	via := distinctHops(2, a.hop(), b.hop())

	if _, err := a.engine.Send(b.key(), "learn me"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	texts := a.transport.takeOfKind(protocol.PayloadTxtMsg)
	b.receive(texts[0], via...)

	teaches := b.transport.takeOfKind(protocol.PayloadPath)
	a.receive(teaches[0])

	// One teach both acked the message and cached the taught path.
	msgs := a.engine.Messages(b.key())
	if !msgs[0].Acked {
		t.Fatalf("piggybacked ack not applied")
	}
	if _, err := a.engine.Send(b.key(), "use it"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	next := a.transport.takeOfKind(protocol.PayloadTxtMsg)
	wantPath := []byte{a.hop(), via[0], via[1], b.hop()}
	if next[0].route != protocol.RouteDirect || !bytes.Equal(next[0].path, wantPath) {
		t.Fatalf("send after teach: route %v path %v, want direct %v",
			next[0].route, next[0].path, wantPath)
	}
}

func TestTeachFromUnknownHopDropped(t *testing.T) {
	a, b, _ := newPair(t)

	teach := &protocol.PathTeach{Path: nil, ExtraKind: protocol.PayloadNone}
	payload, err := teach.Encode()
	if err != nil {
		t.Fatalf("teach encode: %v", err)
	}

	// No conversation with b exists yet, so the teach has no home.
	a.receive(sentPacket{
		route:   protocol.RouteDirect,
		kind:    protocol.PayloadPath,
		path:    []byte{b.hop(), a.hop()},
		payload: payload,
	})

	if sums := a.engine.Conversations(); len(sums) != 0 {
		t.Fatalf("teach from unknown hop created a conversation")
	}
}
