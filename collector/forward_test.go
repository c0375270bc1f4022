package collector

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type mockChatSender struct {
	mu    sync.Mutex
	calls []ChatMessage
	failN int
	block chan struct{}
}

func (m *mockChatSender) Send(ctx context.Context, msg ChatMessage) error {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msg)
	if m.failN > 0 {
		m.failN--
		return errors.New("mock chat send failure")
	}
	return nil
}

func (m *mockChatSender) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failN = n
}

func (m *mockChatSender) Calls() []ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatMessage, len(m.calls))
	copy(out, m.calls)
	return out
}

func testForwardConfig() ForwardConfig {
	cfg := DefaultConfig().Forward
	cfg.WebhookURL = "http://chat.invalid/robot/send?key=test"
	return cfg
}

func TestForwarder_ShouldForward(t *testing.T) {
	f := NewForwarder(testForwardConfig(), &mockChatSender{}, nil, nil)

	tests := []struct {
		board, eventType string
		want             bool
	}{
		{"EP", "Card Moved", true},
		{"EP", "Card Created", true},
		{"EP", "New Comment", false},
		{"OtherBoard", "Card Created", false},
		{"ep", "Card Created", false},
		{"N/A", "Unknown", false},
	}
	for _, tt := range tests {
		ev := &Event{BoardName: tt.board, EventType: tt.eventType}
		assert.Equal(t, tt.want, f.ShouldForward(ev), "%s/%s", tt.board, tt.eventType)
	}
	assert.False(t, f.ShouldForward(nil))
}

func TestForwarder_EmptyAllowListForwardsNothing(t *testing.T) {
	cfg := testForwardConfig()
	cfg.Boards = nil
	f := NewForwarder(cfg, &mockChatSender{}, nil, nil)
	assert.False(t, f.ShouldForward(&Event{BoardName: "EP", EventType: "Card Moved"}))
}

func TestForwarder_FormatMessage_Move(t *testing.T) {
	f := NewForwarder(testForwardConfig(), &mockChatSender{}, nil, nil)
	ev := mustParse(t, `{"title": "Card Moved", "message": "Alice moved [Fix bug](http://x/cards/abc-123) from **Backlog** to **Doing** on EP"}`)

	want := "📋 卡片移动" +
		"\n> 卡片: <font color=\"info\">Fix bug</font>" +
		"\n> 操作人: Alice" +
		"\n> 看板: EP" +
		"\n> 流转: <font color=\"warning\">Backlog → Doing</font>" +
		"\n\n[🔗 点击查看卡片](http://x/cards/abc-123)"
	assert.Equal(t, want, f.FormatMessage(ev))
}

func TestForwarder_FormatMessage_MoveWithoutLists(t *testing.T) {
	f := NewForwarder(testForwardConfig(), &mockChatSender{}, nil, nil)
	ev := mustParse(t, `{"title": "Card Moved", "message": "Bob moved [Task] on EP"}`)

	msg := f.FormatMessage(ev)
	assert.Contains(t, msg, "\n> 流转: <font color=\"warning\">None → None</font>")
	assert.NotContains(t, msg, "🔗")
}

func TestForwarder_FormatMessage_NonMoveAndUnknownLabel(t *testing.T) {
	f := NewForwarder(testForwardConfig(), &mockChatSender{}, nil, nil)

	created := mustParse(t, `{"title": "Card Created", "message": "Gus created [Deploy](https://p.example/cards/42) on EP"}`)
	msg := f.FormatMessage(created)
	assert.True(t, strings.HasPrefix(msg, "✨ 卡片创建\n"))
	assert.NotContains(t, msg, "流转")
	assert.True(t, strings.HasSuffix(msg, "[🔗 点击查看卡片](https://p.example/cards/42)"))

	native := mustParse(t, `{"event": "card_created", "data": {"item": {"name": "N", "id": "1"}}}`)
	msg = f.FormatMessage(native)
	assert.True(t, strings.HasPrefix(msg, "card_created\n"))
	assert.Contains(t, msg, "\n> 操作人: System")
}

func TestForwarder_Dispatch_ScenarioNotAllowed(t *testing.T) {
	sender := &mockChatSender{}
	metrics := NewMetrics(nil)
	f := NewForwarder(testForwardConfig(), sender, nil, metrics)

	ev := mustParse(t, `{"title": "New Comment", "message": "Carol commented on [Task] on OtherBoard"}`)
	assert.False(t, f.Dispatch(ev))
	f.Wait()

	assert.Empty(t, sender.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Forwarded.WithLabelValues(forwardSkipped)))
}

func TestForwarder_Dispatch_DisabledWithoutWebhook(t *testing.T) {
	sender := &mockChatSender{}
	cfg := testForwardConfig()
	cfg.WebhookURL = "  "
	f := NewForwarder(cfg, sender, nil, nil)

	assert.False(t, f.Enabled())
	assert.False(t, f.Dispatch(&Event{BoardName: "EP", EventType: "Card Moved"}))
	f.Wait()
	assert.Empty(t, sender.Calls())
}

func TestForwarder_Dispatch_SendsMarkdown(t *testing.T) {
	sender := &mockChatSender{}
	metrics := NewMetrics(nil)
	f := NewForwarder(testForwardConfig(), sender, nil, metrics)

	ev := mustParse(t, `{"title": "Card Created", "message": "Gus created [Deploy](https://p.example/cards/42) on EP"}`)
	require.True(t, f.Dispatch(ev))
	f.Wait()

	calls := sender.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "markdown", calls[0].MsgType)
	require.NotNil(t, calls[0].Markdown)
	assert.Equal(t, f.FormatMessage(ev), calls[0].Markdown.Content)
	assert.Nil(t, calls[0].Text)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Forwarded.WithLabelValues(forwardSent)))
}

func TestForwarder_Dispatch_FailureIsLoggedNotReturned(t *testing.T) {
	sender := &mockChatSender{}
	sender.FailNext(1)
	core, logs := observer.New(zapcore.DebugLevel)
	metrics := NewMetrics(nil)
	f := NewForwarder(testForwardConfig(), sender, zap.New(core), metrics)

	ev := &Event{ID: 7, BoardName: "EP", EventType: "Card Moved"}
	require.True(t, f.Dispatch(ev))
	f.Wait()

	assert.Len(t, sender.Calls(), 1)
	failed := logs.FilterMessage("chat sink delivery failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
	assert.EqualValues(t, 7, failed[0].ContextMap()["id"])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Forwarded.WithLabelValues(forwardFailed)))
}

func TestForwarder_Dispatch_DoesNotBlockOnSlowSink(t *testing.T) {
	sender := &mockChatSender{block: make(chan struct{})}
	f := NewForwarder(testForwardConfig(), sender, nil, nil)

	done := make(chan bool, 1)
	go func() { done <- f.Dispatch(&Event{BoardName: "EP", EventType: "Card Moved"}) }()
	select {
	case started := <-done:
		assert.True(t, started)
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked on the chat sink")
	}

	close(sender.block)
	f.Wait()
	assert.Len(t, sender.Calls(), 1)
}

func TestForwarder_Dispatch_TimeoutBoundsDelivery(t *testing.T) {
	sender := &mockChatSender{block: make(chan struct{})}
	cfg := testForwardConfig()
	cfg.Timeout = 50 * time.Millisecond
	metrics := NewMetrics(nil)
	f := NewForwarder(cfg, sender, nil, metrics)

	require.True(t, f.Dispatch(&Event{BoardName: "EP", EventType: "Card Moved"}))
	f.Wait()

	assert.Empty(t, sender.Calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Forwarded.WithLabelValues(forwardFailed)))
}

func TestPayloadMessage(t *testing.T) {
	assert.Equal(t, "hi", payloadMessage(`{"message":"hi"}`))
	assert.Equal(t, "", payloadMessage(`{"message":42}`))
	assert.Equal(t, "", payloadMessage(`not json`))
	assert.Equal(t, "", payloadMessage(""))
}
