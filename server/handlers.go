package server

import (
	"errors"
	"time"

	"arcade-server/protocol"
	"arcade-server/throttle"
)

// handleClientMessage processes one inbound frame from a client. Throttled
// and malformed frames are dropped; the connection stays open.
func (s *InstanceServer) handleClientMessage(client *WebSocketClient, message []byte) {
	switch client.limiter.Offer(time.Now()) {
	case throttle.Drop:
		return
	case throttle.Advise:
		client.logger.Debug("input throttled", "dropped", client.limiter.Dropped())
		if err := client.Send(protocol.Encode(protocol.NewRateLimit())); err != nil {
			client.logger.Debug("rate limit advisory not sent", "error", err)
		}
		return
	}

	if err := s.rooms.RouteInput(client, message); err != nil {
		if errors.Is(err, protocol.ErrMalformed) || errors.Is(err, protocol.ErrUnknownKey) || errors.Is(err, protocol.ErrUnknownAction) {
			client.logger.Debug("dropping malformed input", "error", err)
			return
		}
		client.logger.Info("input not applied", "error", err)
	}
}
