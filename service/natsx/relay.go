package natsx

import (
	"context"
	"strconv"
	"strings"
	"time"

	"PPChat/logger"
	"PPChat/module/chat/event"
	"PPChat/service/metrics"
	"PPChat/tools/errs"
	"PPChat/tools/ids"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	subjectPrefix = "chat.events."
	// HeaderNode names the gateway that published a relayed event.
	HeaderNode = "Chat-Gateway-Node"

	dedupeTTL = 2 * time.Minute
)

func Subject(chatID int64) string { return subjectPrefix + strconv.FormatInt(chatID, 10) }

// Transport is the part of Client the relay uses.
type Transport interface {
	PublishMsg(m *nats.Msg) error
	Subscribe(subject string, h nats.MsgHandler) error
}

// LocalPublisher delivers an envelope to this gateway's subscribers only.
type LocalPublisher interface {
	PublishLocal(env *event.Envelope)
}

// Relay copies chat events between gateways so members connected elsewhere
// receive them. Events a gateway published itself are not replayed.
type Relay struct {
	tr     Transport
	nodeID string
	local  LocalPublisher
	log    *zap.Logger
}

func NewRelay(tr Transport, nodeID string, local LocalPublisher) *Relay {
	return &Relay{tr: tr, nodeID: nodeID, local: local, log: logger.Named("relay")}
}

// Forward implements hub.Relay.
func (r *Relay) Forward(env *event.Envelope) {
	msg := nats.NewMsg(Subject(env.ChatID))
	msg.Header.Set(HeaderNode, r.nodeID)
	msg.Header.Set(nats.MsgIdHdr, r.nodeID+"-"+ids.GenerateString())
	msg.Data = env.Data
	if err := r.tr.PublishMsg(msg); err != nil {
		r.log.Warn("relay publish failed", zap.Int64("chat_id", env.ChatID), zap.Error(err))
		return
	}
	metrics.RelayMessages.WithLabelValues("out").Inc()
}

// Start subscribes to every chat subject.
func (r *Relay) Start(ctx context.Context) error {
	h := Chain(r.handle, LogErrors(), Recover(), Dedupe(NewMemSeen(ctx), dedupeTTL))
	return r.tr.Subscribe(subjectPrefix+"*", Adapt(ctx, h))
}

func (r *Relay) handle(_ context.Context, msg *nats.Msg) error {
	if msg.Header.Get(HeaderNode) == r.nodeID {
		return nil
	}
	chatID, err := strconv.ParseInt(strings.TrimPrefix(msg.Subject, subjectPrefix), 10, 64)
	if err != nil {
		return errs.ErrBadPayload.WrapMsg("bad relay subject", "subject", msg.Subject)
	}
	ev, err := event.DecodeOutbound(msg.Data)
	if err != nil {
		return err
	}
	metrics.RelayMessages.WithLabelValues("in").Inc()
	r.local.PublishLocal(&event.Envelope{ChatID: chatID, Event: ev, Data: msg.Data})
	return nil
}
