package logctx

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestHandler_EnrichesFromContext(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)})

	ctx := WithRequestData(context.Background(), &RequestData{
		RequestID: "req-1",
		Method:    "POST",
		Path:      "/upload-mobile/x",
	})
	ctx = WithSessionData(ctx, &SessionData{SessionID: "upload-1...", ClientAddr: "10.0.0.1"})
	ctx = WithUserData(ctx, &UserData{Subject: "user-123", Username: "drsilva"})

	log.InfoContext(ctx, "hello")

	out := buf.String()
	for _, want := range []string{`"req"`, `"sess"`, `"user"`, "req-1", "upload-1...", "user-123"} {
		if !strings.Contains(out, want) {
			t.Fatalf("record missing %q: %s", want, out)
		}
	}
}

func TestHandler_PlainContext(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{Handler: slog.NewJSONHandler(&buf, nil)})

	log.InfoContext(context.Background(), "hello")

	out := buf.String()
	for _, group := range []string{`"req"`, `"sess"`, `"user"`} {
		if strings.Contains(out, group) {
			t.Fatalf("unexpected %s group without context data: %s", group, out)
		}
	}
}
