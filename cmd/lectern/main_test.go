package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/benaskins/lectern/internal/api"
	"github.com/benaskins/lectern/internal/articles"
	"github.com/benaskins/lectern/internal/backend"
	"github.com/benaskins/lectern/internal/config"
	"github.com/benaskins/lectern/internal/keychain"
	"github.com/benaskins/lectern/internal/status"
	"github.com/benaskins/lectern/internal/supervisor"
)

func TestPortGatewayFollowsPort(t *testing.T) {
	port := 5005
	g := newPortGateway(func() int { return port })

	first := g.current()
	if first.BaseURL() != "http://127.0.0.1:5005" {
		t.Errorf("BaseURL = %q", first.BaseURL())
	}
	if g.current() != first {
		t.Error("client should be reused while the port is unchanged")
	}

	port = 24001
	if got := g.current().BaseURL(); got != "http://127.0.0.1:24001" {
		t.Errorf("after restart BaseURL = %q", got)
	}
}

func TestClientOptions(t *testing.T) {
	cfg := config.Default()
	if n := len(clientOptions(cfg, nil)); n != 1 {
		t.Errorf("without token: %d options", n)
	}
	cfg.Backend.TokenSecret = "reader-token"
	if n := len(clientOptions(cfg, keychain.NewMemoryStore())); n != 2 {
		t.Errorf("with token: %d options", n)
	}
}

func TestExplainJobError(t *testing.T) {
	err := explainJobError(articles.ErrServerUnavailable)
	if !errors.Is(err, articles.ErrServerUnavailable) || !strings.Contains(err.Error(), "lectern start") {
		t.Errorf("got %v", err)
	}

	err = explainJobError(&api.Error{StatusCode: 503, Kind: api.KindSummarizationDisabled, Message: "summarization is disabled on the backend"})
	if !strings.Contains(err.Error(), "enable it") {
		t.Errorf("got %v", err)
	}

	plain := errors.New("boom")
	if explainJobError(plain) != plain {
		t.Error("other errors pass through")
	}
}

func TestPrinters(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &backend.Article{Title: "Go 1.26", Summary: "short", FullSummary: "the long one"})
	if !strings.Contains(buf.String(), "the long one") || strings.Contains(buf.String(), "short") {
		t.Errorf("summary = %q", buf.String())
	}

	buf.Reset()
	printRelated(&buf, &backend.Article{RelatedLinks: []backend.RelatedLink{{Title: "Release notes", URL: "https://go.dev/doc"}}})
	if !strings.Contains(buf.String(), "Release notes") || !strings.Contains(buf.String(), "https://go.dev/doc") {
		t.Errorf("related = %q", buf.String())
	}

	buf.Reset()
	printContent(&buf, &backend.Article{ContentError: "paywall"})
	if !strings.Contains(buf.String(), "content fetch failed: paywall") {
		t.Errorf("content = %q", buf.String())
	}

	buf.Reset()
	printContent(&buf, nil)
	if buf.Len() != 0 {
		t.Error("nil article prints nothing")
	}
}

func TestPrintSnapshot(t *testing.T) {
	var buf bytes.Buffer
	printSnapshot(&buf, supervisor.Snapshot{
		State:     supervisor.StateStopped,
		Status:    status.Unhealthy("connection refused"),
		LastError: "backend did not become healthy within 30s",
	})
	out := buf.String()
	for _, want := range []string{"stopped", "unhealthy: connection refused", "PID", "-", "within 30s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSetupLogging(t *testing.T) {
	var buf bytes.Buffer
	if err := setupLogging("debug", &buf); err != nil {
		t.Fatal(err)
	}
	if err := setupLogging("loud", &buf); err == nil {
		t.Error("unknown level should fail")
	}
}

func TestSecretUsers(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Secrets = map[string]string{"OPENAI_API_KEY": "openai", "AZURE_KEY": "openai", "DB_URL": "db"}
	cfg.Backend.TokenSecret = "openai"

	users := secretUsers(cfg)
	if got := strings.Join(users["openai"], ","); got != "AZURE_KEY,OPENAI_API_KEY,api token" {
		t.Errorf("openai used by %q", got)
	}
	if got := users["db"]; len(got) != 1 || got[0] != "DB_URL" {
		t.Errorf("db used by %v", got)
	}
}

func TestExplainLifecycleError(t *testing.T) {
	err := explainLifecycleError(&api.Error{StatusCode: 504, Kind: api.KindStartupTimeout, Message: "backend did not become healthy within 45s", TimeoutSeconds: 45})
	if !strings.Contains(err.Error(), "timing.startup_timeout above 45s") {
		t.Errorf("got %v", err)
	}

	plain := &api.Error{StatusCode: 404, Kind: api.KindScriptNotFound, Message: "missing"}
	if explainLifecycleError(plain) != error(plain) {
		t.Error("other errors pass through")
	}
}
