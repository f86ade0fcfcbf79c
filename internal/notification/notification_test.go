package notification

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerNotifierWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	n := NewLoggerNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))

	if err := n.Send(context.Background(), Message{Kind: KindSessionEvicted, Destination: "u1", Body: "closed"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(buf.String(), `"kind":"session_evicted"`) || !strings.Contains(buf.String(), `"destination":"u1"`) {
		t.Fatalf("unexpected log %s", buf.String())
	}
}

func TestNilLoggerNotifierDrops(t *testing.T) {
	var n *LoggerNotifier
	if err := n.Send(context.Background(), Message{Kind: KindOTPRequired}); err != nil {
		t.Fatalf("send: %v", err)
	}
}
