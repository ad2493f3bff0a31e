package logger

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestRedactingHandlerMasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewRedactingHandler(slog.NewJSONHandler(&buf, nil)))

	secret := "0x" + strings.Repeat("ab", 32)
	log.Info("imported",
		slog.String("private_key", secret),
		slog.String("address", "0x1111111111111111111111111111111111111111"),
		slog.Group("gate", slog.String("password", "hunter2")),
		slog.Any("error", errors.New("signer rejected "+secret)),
	)

	out := buf.String()
	if strings.Contains(out, secret) || strings.Contains(out, "hunter2") {
		t.Fatalf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, "0x1111111111111111111111111111111111111111") {
		t.Fatalf("non-sensitive attribute should be kept: %s", out)
	}
	if strings.Count(out, redacted) != 3 {
		t.Fatalf("expected three redactions: %s", out)
	}
}

func TestRedactingHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewRedactingHandler(slog.NewTextHandler(&buf, nil))).With("store_secret", "s3cr3t")
	log.Info("opened")
	if strings.Contains(buf.String(), "s3cr3t") {
		t.Fatalf("secret leaked through With: %s", buf.String())
	}
}
