package notification

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggerNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLoggerNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	msg := Message{Kind: KindSubAccountToppedUp, Destination: "0xabc", Body: "topped up 0.5"}
	if err := n.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(buf.String(), `"kind":"subaccount_topped_up"`) {
		t.Fatalf("unexpected log %s", buf.String())
	}

	var nilNotifier *LoggerNotifier
	if err := nilNotifier.Send(context.Background(), msg); err != nil {
		t.Fatalf("nil notifier should be a no-op: %v", err)
	}
}

func TestRecorderCopies(t *testing.T) {
	var r Recorder
	_ = r.Send(context.Background(), Message{Kind: KindLedgerDeleteWithFunds})
	got := r.Messages()
	got[0].Kind = "changed"
	if r.Messages()[0].Kind != KindLedgerDeleteWithFunds {
		t.Fatalf("Messages must return a copy")
	}
}
