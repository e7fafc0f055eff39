package ws

import (
	"context"

	"go.uber.org/zap"

	"github.com/bugtrackr/realtime/internal/event"
	"github.com/bugtrackr/realtime/internal/metrics"
	"github.com/bugtrackr/realtime/internal/registry"
	"github.com/bugtrackr/realtime/pkg/json"
)

// dispatch routes one client frame. Bad input is answered on the same
// socket and never tears the connection down; unexpected failures while
// handling a frame, panics included, are answered the same way. Only
// transport failures end the connection, in readLoop.
func (c *Conn) dispatch(ctx context.Context, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("frame handling panicked", zap.Any("panic", r))
			c.replyError(msgServerError)
		}
	}()

	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		metrics.InboundFrames.WithLabelValues("invalid").Inc()
		c.replyError(msgInvalidJSON)
		return
	}

	switch frame.Type {
	case frameTypePing:
		metrics.InboundFrames.WithLabelValues(frameTypePing).Inc()
		if err := c.writeWire(pongMessage{
			Type:       "pong",
			Timestamp:  frame.Timestamp,
			User:       c.identity.Username,
			ServerTime: serverTime(),
		}); err != nil {
			c.log.Debug("failed to send pong", zap.Error(err))
		}

	case frameTypeTyping:
		metrics.InboundFrames.WithLabelValues(frameTypeTyping).Inc()
		env, err := event.Wrap(&event.TypingSignal{
			Actor:    c.identity.Username,
			IsTyping: frame.IsTyping,
			BugID:    frame.BugID,
		})
		if err != nil {
			c.log.Error("failed to wrap typing signal", zap.Error(err))
			c.replyError(msgServerError)
			return
		}
		if err := c.reg.Publish(ctx, registry.Project(c.projectID), env); err != nil {
			c.log.Warn("failed to publish typing signal", zap.Error(err))
			c.replyError(msgServerError)
		}

	default:
		metrics.InboundFrames.WithLabelValues("unknown").Inc()
		c.replyError(msgUnknownTypePrefix + frame.Type)
	}
}

func (c *Conn) replyError(message string) {
	if err := c.writeWire(errorMessage{Type: "error", Message: message}); err != nil {
		c.log.Debug("failed to send error reply", zap.Error(err))
	}
}
