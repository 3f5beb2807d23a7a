// Cricket Bridge - WhatsApp relay for the CSCC cricket agent
// License: MIT
//
// Copyright (c) 2026 Cricket Bridge contributors

package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/cscc/cricket-bridge/pkg/bus"
	"github.com/cscc/cricket-bridge/pkg/filter"
	"github.com/cscc/cricket-bridge/pkg/forwarder"
	"github.com/cscc/cricket-bridge/pkg/metrics"
)

const (
	guidanceReply = "Hi! Ask me something about the club, e.g. \"!cscc when is the next fixture?\""
	apologyReply  = "Sorry, I couldn't reach the cricket brain just now. Please try again in a minute."
)

// SelfIDer supplies the bridge's own transport address for mention handling.
type SelfIDer interface {
	SelfID() string
}

// Relay consumes inbound transport events, runs them through the filter, and
// forwards the survivors to the cricket agent. Each message is handled on its
// own goroutine: replies for a busy chat may arrive out of order, which is an
// accepted property of the pipeline.
type Relay struct {
	broker bus.Broker
	filter *filter.Filter
	fwd    *forwarder.Forwarder
	rec    *metrics.Recorder
	self   SelfIDer
}

func New(broker bus.Broker, f *filter.Filter, fwd *forwarder.Forwarder, rec *metrics.Recorder, self SelfIDer) *Relay {
	return &Relay{broker: broker, filter: f, fwd: fwd, rec: rec, self: self}
}

// Run pumps the inbound queue until ctx is cancelled or the broker closes.
func (r *Relay) Run(ctx context.Context) {
	for {
		msg, ok := r.broker.ConsumeInbound(ctx)
		if !ok {
			return
		}
		go r.handle(ctx, msg)
	}
}

func (r *Relay) handle(ctx context.Context, msg bus.MessageEvent) {
	r.rec.Message()

	selfID := r.self.SelfID()
	// Rejections are logged inside the filter where it matters.
	ok, _ := r.filter.ShouldProcess(msg.ChatID, msg.Text, msg.IsGroup, msg.MessageID, selfID)
	if !ok {
		return
	}

	clean := r.filter.CleanMessage(msg.Text, selfID)
	if clean == "" {
		r.reply(msg.ChatID, guidanceReply)
		return
	}

	req := forwarder.Request{Text: clean, Source: "whatsapp"}
	if msg.IsGroup {
		req.TeamHint = msg.ChatID
	}

	r.rec.Forward()
	start := time.Now()
	resp, err := r.fwd.Forward(ctx, req)
	if err != nil {
		r.rec.Error()
		slog.Error("forward failed, sending apology",
			"chat", msg.ChatID, "message_id", msg.MessageID, "error", err)
		r.reply(msg.ChatID, apologyReply)
		return
	}

	r.rec.ObserveForward(float64(time.Since(start).Milliseconds()), resp.Meta.LatencyMS)
	r.reply(msg.ChatID, resp.Answer)
}

func (r *Relay) reply(chatID, text string) {
	r.broker.PublishReply(bus.Reply{ChatID: chatID, Text: text})
	r.rec.Reply()
}
