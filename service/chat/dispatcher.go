package chat

import (
	"context"

	"PPChat/module/chat/event"
	"PPChat/module/chat/service"
	"PPChat/service/hub"
	"PPChat/service/metrics"
	"PPChat/tools/errs"

	"go.uber.org/zap"
)

// Dispatcher turns one client frame into state changes and fan-out.
type Dispatcher struct {
	svc *service.MessageService
	hub *hub.Hub
}

func NewDispatcher(svc *service.MessageService, h *hub.Hub) *Dispatcher {
	return &Dispatcher{svc: svc, hub: h}
}

// Dispatch never fails the connection: malformed frames and unknown types are
// ignored, storage failures abort only this event.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Conn, raw []byte) {
	in, err := event.ParseInbound(raw)
	if err != nil {
		if errs.IsUnknownEvent(err) {
			metrics.InboundEvents.WithLabelValues("unknown", "ignored").Inc()
			c.log.Debug("unknown event ignored", zap.Error(err))
		} else {
			metrics.InboundEvents.WithLabelValues("invalid", "ignored").Inc()
			c.log.Info("malformed event ignored", zap.Error(err))
		}
		return
	}
	kind := string(in.Kind())

	ctx, cancel := context.WithTimeout(ctx, c.srv.conf.EventTimeout)
	defer cancel()
	out, err := d.svc.Handle(ctx, c.user, c.chatID, in)
	if err != nil {
		metrics.InboundEvents.WithLabelValues(kind, "error").Inc()
		c.log.Error("event aborted", zap.String("type", kind), zap.Error(err))
		return
	}
	if out == nil {
		metrics.InboundEvents.WithLabelValues(kind, "noop").Inc()
		return
	}
	if err := d.hub.Publish(out.ChatID, out.Event); err != nil {
		metrics.InboundEvents.WithLabelValues(kind, "error").Inc()
		c.log.Error("publish failed", zap.String("type", kind), zap.Error(err))
		return
	}
	metrics.InboundEvents.WithLabelValues(kind, "ok").Inc()
}
