package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Forwarder pushes selected events to the chat sink. Delivery is best effort:
// one attempt, bounded by a timeout, failures only logged.
type Forwarder struct {
	cfg     ForwardConfig
	sender  ChatSender
	log     *zap.Logger
	metrics *Metrics

	wg sync.WaitGroup
}

// NewForwarder builds a Forwarder. A nil sender defaults to a WeComClient for cfg.WebhookURL.
func NewForwarder(cfg ForwardConfig, sender ChatSender, log *zap.Logger, metrics *Metrics) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSendTimeout
	}
	if cfg.MoveEventType == "" {
		cfg.MoveEventType = DefaultMoveEventType
	}
	if sender == nil {
		sender = NewWeComClient(cfg.WebhookURL, cfg.Timeout)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Forwarder{cfg: cfg, sender: sender, log: log, metrics: metrics}
}

// Enabled reports whether a sink URL is configured.
func (f *Forwarder) Enabled() bool {
	return strings.TrimSpace(f.cfg.WebhookURL) != ""
}

// ShouldForward reports whether ev is on an allowed board and of an allowed type.
func (f *Forwarder) ShouldForward(ev *Event) bool {
	if ev == nil {
		return false
	}
	return lo.Contains(f.cfg.Boards, ev.BoardName) && lo.Contains(f.cfg.EventTypes, ev.EventType)
}

// FormatMessage renders the WeCom markdown text for ev.
func (f *Forwarder) FormatMessage(ev *Event) string {
	label, ok := f.cfg.Labels[ev.EventType]
	if !ok || label == "" {
		label = ev.EventType
	}

	var b strings.Builder
	b.WriteString(label)
	fmt.Fprintf(&b, "\n> 卡片: <font color=\"info\">%s</font>", ev.ItemName)
	fmt.Fprintf(&b, "\n> 操作人: %s", ev.UserName)
	fmt.Fprintf(&b, "\n> 看板: %s", ev.BoardName)
	if ev.EventType == f.cfg.MoveEventType {
		fmt.Fprintf(&b, "\n> 流转: <font color=\"warning\">%s → %s</font>",
			derefOr(ev.FromList, "None"), derefOr(ev.ToList, "None"))
	}
	if link, ok := firstParenURL(payloadMessage(ev.RawPayload)); ok {
		fmt.Fprintf(&b, "\n\n[🔗 点击查看卡片](%s)", link)
	}
	return b.String()
}

// Dispatch forwards ev in the background when it passes the filter and
// reports whether a delivery was started. It never blocks on the sink.
func (f *Forwarder) Dispatch(ev *Event) bool {
	if !f.Enabled() || !f.ShouldForward(ev) {
		f.metrics.Forwarded.WithLabelValues(forwardSkipped).Inc()
		f.log.Debug("not forwarded",
			zap.Uint("id", ev.ID),
			zap.String("board", ev.BoardName),
			zap.String("event_type", ev.EventType),
			zap.Bool("sink_configured", f.Enabled()))
		return false
	}

	msg := NewMarkdownMessage(f.FormatMessage(ev))
	id := ev.ID
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), f.cfg.Timeout)
		defer cancel()
		f.deliver(ctx, id, msg)
	}()
	return true
}

func (f *Forwarder) deliver(ctx context.Context, id uint, msg ChatMessage) {
	start := time.Now()
	if err := f.sender.Send(ctx, msg); err != nil {
		f.metrics.Forwarded.WithLabelValues(forwardFailed).Inc()
		f.log.Warn("chat sink delivery failed", zap.Uint("id", id), zap.Error(err))
		return
	}
	f.metrics.Forwarded.WithLabelValues(forwardSent).Inc()
	f.log.Info("forwarded to chat sink", zap.Uint("id", id), zap.Duration("elapsed", time.Since(start)))
}

// Wait blocks until every started delivery has finished.
func (f *Forwarder) Wait() {
	f.wg.Wait()
}

// payloadMessage returns the free-text "message" field of a stored payload, or "".
func payloadMessage(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return ""
	}
	msg, _ := payload["message"].(string)
	return msg
}
