package dm

import (
	"go.uber.org/zap"

	"github.com/ezmesh/meshdm/pkg/protocol"
)

// routeFor picks flood or direct for the next packet to this contact.
// A fresh cached route goes direct; no route, or a route past the
// refresh interval, floods. Flooding over an aged route pushes the
// refresh timestamp forward so only one probe flood goes out per
// interval, whatever it discovers.
func (e *Engine) routeFor(conv *Conversation) (protocol.RouteKind, []byte) {
	local := e.transport.LocalHopID()

	if conv.Route != nil {
		age := e.now() - conv.Route.RefreshedAt
		if age < RouteRefreshInterval.Milliseconds() {
			return protocol.RouteDirect, protocol.DirectPath(local, conv.Route.Hops, conv.Peer.HopID())
		}

		conv.Route.RefreshedAt = e.now()
		e.log.Debug("route aged, probing by flood",
			zap.String("peer", conv.Peer.ShortString()),
			zap.Int("hops", len(conv.Route.Hops)))
	}

	return protocol.RouteFlood, []byte{local}
}

// learnRoute considers the traversal path of an inbound packet as a
// candidate outbound route to the sender.
func (e *Engine) learnRoute(conv *Conversation, path []byte) {
	candidate := protocol.RouteCandidate(path, conv.Peer.HopID(), e.transport.LocalHopID())
	if candidate == nil {
		return
	}
	e.adoptRoute(conv, candidate)
}

// adoptRoute accepts hops as the cached route only when nothing is
// cached yet or the candidate is strictly shorter. Routes never
// regress to a longer alternative merely because it is newer.
// Acceptance resets the refresh timer.
func (e *Engine) adoptRoute(conv *Conversation, hops []byte) bool {
	if conv.Route != nil && len(hops) >= len(conv.Route.Hops) {
		return false
	}

	conv.Route = &Route{Hops: hops, RefreshedAt: e.now()}
	e.log.Info("route cached",
		zap.String("peer", conv.Peer.ShortString()),
		zap.Int("hops", len(hops)))
	return true
}

// resetRoute discards the cached route, forcing the next send back to
// flood discovery. Triggered by exhausted delivery retries.
func (e *Engine) resetRoute(conv *Conversation) {
	if conv.Route == nil {
		return
	}

	conv.Route = nil
	e.log.Info("route reset",
		zap.String("peer", conv.Peer.ShortString()))
}
