package handlers_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/SirClappington/jobexec/internal/domain"
	"github.com/SirClappington/jobexec/internal/handlers"
	"github.com/SirClappington/jobexec/internal/jobexec"
)

func execCtx() jobexec.ExecutionContext {
	return jobexec.ExecutionContext{JobID: "job-1", Kind: domain.KindJob, Attempt: 2, Logger: zap.NewNop()}
}

func TestLog(t *testing.T) {
	tests := []struct {
		name    string
		cfg     string
		wantErr string
	}{
		{name: "message", cfg: `{"message":"hello"}`},
		{name: "empty configuration", cfg: ``},
		{name: "fail", cfg: `{"message":"nope","fail":true}`, wantErr: "log: nope"},
		{name: "bad json", cfg: `{`, wantErr: "decode configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := handlers.Log{}.Execute(context.Background(), execCtx(), []byte(tt.cfg))
			if tt.wantErr == "" && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestWebhook_SignsAndPosts(t *testing.T) {
	var (
		gotBody []byte
		gotSig  string
		gotTS   string
		gotHdr  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Job-Signature")
		gotTS = r.Header.Get("X-Job-Timestamp")
		gotHdr = r.Header.Get("X-Custom")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg, _ := json.Marshal(handlers.WebhookConfig{
		URL:     srv.URL,
		Secret:  "s3cret-key",
		Headers: map[string]string{"X-Custom": "yes"},
		Payload: json.RawMessage(`{"order":42}`),
	})
	if err := handlers.NewWebhook(srv.Client()).Execute(context.Background(), execCtx(), cfg); err != nil {
		t.Fatal(err)
	}

	var body map[string]any
	if err := json.Unmarshal(gotBody, &body); err != nil {
		t.Fatal(err)
	}
	if body["job_id"] != "job-1" || body["attempt"] != float64(2) {
		t.Errorf("body = %s", gotBody)
	}
	if want := "v1=" + handlers.Sign("s3cret-key", gotTS, gotBody); gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
	if gotHdr != "yes" {
		t.Errorf("custom header = %q", gotHdr)
	}
}

func TestWebhook_Non2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg, _ := json.Marshal(handlers.WebhookConfig{URL: srv.URL})
	err := handlers.NewWebhook(srv.Client()).Execute(context.Background(), execCtx(), cfg)
	if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "maintenance") {
		t.Fatalf("err = %v", err)
	}
}

func TestWebhook_RequiresURL(t *testing.T) {
	err := handlers.NewWebhook(http.DefaultClient).Execute(context.Background(), execCtx(), []byte(`{}`))
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRegister(t *testing.T) {
	r := jobexec.NewRegistry()
	if err := handlers.Register(r); err != nil {
		t.Fatal(err)
	}
	if got := r.Types(); len(got) != 2 || got[0] != handlers.TypeLog || got[1] != handlers.TypeWebhook {
		t.Errorf("Types = %v", got)
	}
}
