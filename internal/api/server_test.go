package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SirClappington/jobexec/internal/api"
	"github.com/SirClappington/jobexec/internal/clock"
	"github.com/SirClappington/jobexec/internal/domain"
	"github.com/SirClappington/jobexec/internal/storage/memstore"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memstore.Store
	srv    *httptest.Server
	hinted []domain.Kind
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{store: memstore.New()}
	s := api.New(fx.store,
		api.WithClock(clock.NewManual(t0)),
		api.WithDefaultRetries(4),
		api.WithHint(func(k domain.Kind) { fx.hinted = append(fx.hinted, k) }),
	)
	fx.srv = httptest.NewServer(s.Routes())
	t.Cleanup(fx.srv.Close)
	return fx
}

func (fx *fixture) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, fx.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := fx.srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (fx *fixture) seed(t *testing.T, jobs ...*domain.Job) {
	t.Helper()
	for _, j := range jobs {
		if err := fx.store.CreateJob(context.Background(), j); err != nil {
			t.Fatal(err)
		}
	}
}

func job(id, tenant string) *domain.Job {
	return &domain.Job{ID: id, Kind: domain.KindJob, HandlerType: "log", TenantID: tenant, DueDate: t0, Retries: 1}
}

type jobBody struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	HandlerType   string          `json:"handler_type"`
	Configuration json.RawMessage `json:"configuration"`
	TenantID      string          `json:"tenant_id"`
	DueDate       time.Time       `json:"due_date"`
	Retries       int             `json:"retries"`
	LockOwner     *string         `json:"lock_owner"`
	FailedAt      time.Time       `json:"failed_at"`
	EndTime       time.Time       `json:"end_time"`
}

func TestCreateJob(t *testing.T) {
	fx := newFixture(t)

	var got jobBody
	code := fx.do(t, http.MethodPost, "/v1/jobs", `{"handler_type":"log","configuration":{"message":"hi"},"tenant_id":"acme"}`, &got)
	if code != http.StatusCreated {
		t.Fatalf("status = %d", code)
	}
	if got.ID == "" || got.Kind != "job" || got.Retries != 4 || !got.DueDate.Equal(t0) {
		t.Errorf("created = %+v", got)
	}
	if string(got.Configuration) != `{"message":"hi"}` {
		t.Errorf("configuration = %s", got.Configuration)
	}
	if len(fx.hinted) != 1 || fx.hinted[0] != domain.KindJob {
		t.Errorf("hinted = %v", fx.hinted)
	}

	stored, err := fx.store.GetJob(context.Background(), domain.KindJob, got.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.TenantID != "acme" || stored.Leased() {
		t.Errorf("stored = %+v", stored)
	}
}

func TestCreateJob_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "bad json", body: `{`, want: http.StatusBadRequest},
		{name: "missing handler", body: `{}`, want: http.StatusBadRequest},
		{name: "bad kind", body: `{"kind":"timer","handler_type":"log"}`, want: http.StatusBadRequest},
		{name: "bad repeat", body: `{"handler_type":"log","repeat":"every day"}`, want: http.StatusBadRequest},
		{name: "zero retries", body: `{"handler_type":"log","retries":0}`, want: http.StatusBadRequest},
		{name: "negative retries", body: `{"handler_type":"log","retries":-2}`, want: http.StatusBadRequest},
		{name: "duplicate", body: `{"id":"dup","handler_type":"log"}`, want: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			fx.seed(t, job("dup", ""))
			var body map[string]string
			if code := fx.do(t, http.MethodPost, "/v1/jobs", tt.body, &body); code != tt.want {
				t.Fatalf("status = %d, want %d (%v)", code, tt.want, body)
			}
			if body["error"] == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestGetJob(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, job("a", ""))

	var got jobBody
	if code := fx.do(t, http.MethodGet, "/v1/jobs/job/a", "", &got); code != http.StatusOK || got.ID != "a" {
		t.Fatalf("status = %d, job = %+v", code, got)
	}
	if code := fx.do(t, http.MethodGet, "/v1/jobs/history/a", "", nil); code != http.StatusNotFound {
		t.Errorf("history lookup status = %d", code)
	}
	if code := fx.do(t, http.MethodGet, "/v1/jobs/bogus/a", "", nil); code != http.StatusBadRequest {
		t.Errorf("bad kind status = %d", code)
	}
}

func TestListAndCountJobs(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, job("a", "acme-1"), job("b", "acme-2"), job("c", "other"), job("d", ""))
	if ok, err := fx.store.TryLease(context.Background(), domain.KindJob, "b", "node-a", t0.Add(time.Minute)); !ok || err != nil {
		t.Fatalf("lease: %v %v", ok, err)
	}

	tests := []struct {
		query string
		want  []string
	}{
		{query: "", want: []string{"a", "b", "c", "d"}},
		{query: "?tenant_id_prefix=acme", want: []string{"a", "b"}},
		{query: "?without_tenant_id=true", want: []string{"d"}},
		{query: "?lease=locked", want: []string{"b"}},
		{query: "?lease=unlocked&sort_by=id&order=desc&limit=2", want: []string{"d", "c"}},
		{query: "?ids=a,c", want: []string{"a", "c"}},
		{query: "?kind=history", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var got []jobBody
			if code := fx.do(t, http.MethodGet, "/v1/jobs"+tt.query, "", &got); code != http.StatusOK {
				t.Fatalf("status = %d", code)
			}
			ids := make([]string, len(got))
			for i, j := range got {
				ids[i] = j.ID
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}

	var c struct{ Count int64 }
	if code := fx.do(t, http.MethodGet, "/v1/jobs/count?tenant_id_prefix=acme&limit=1", "", &c); code != http.StatusOK || c.Count != 2 {
		t.Errorf("count = %d (status %d)", c.Count, code)
	}
}

func TestListJobs_InvalidFilter(t *testing.T) {
	fx := newFixture(t)
	for _, q := range []string{"?limit=x", "?lease=maybe", "?order=up", "?sort_by=end_time", "?without_tenant_id=true&tenant_id=a", "?limit=-1"} {
		if code := fx.do(t, http.MethodGet, "/v1/jobs"+q, "", nil); code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", q, code)
		}
	}
}

func deadLetter(t *testing.T, fx *fixture, id string) {
	t.Helper()
	fx.seed(t, job(id, ""))
	err := fx.store.ApplyOutcome(context.Background(), domain.KindJob, id, domain.Outcome{
		Type: domain.OutcomeDeadLetter, Owner: "node-a", Now: t0, ExceptionMessage: "boom",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestDeadLetters(t *testing.T) {
	fx := newFixture(t)
	deadLetter(t, fx, "x")
	deadLetter(t, fx, "y")

	var list []jobBody
	if code := fx.do(t, http.MethodGet, "/v1/deadletters?sort_by=end_time", "", &list); code != http.StatusOK || len(list) != 2 {
		t.Fatalf("status = %d, list = %+v", code, list)
	}
	if !list[0].FailedAt.Equal(t0) {
		t.Errorf("failed_at = %v", list[0].FailedAt)
	}

	var got jobBody
	due := t0.Add(time.Hour).Format(time.RFC3339)
	if code := fx.do(t, http.MethodPost, "/v1/deadletters/x/resubmit", `{"retries":2,"due_date":"`+due+`"}`, &got); code != http.StatusOK {
		t.Fatalf("resubmit status = %d", code)
	}
	if got.Retries != 2 || !got.DueDate.Equal(t0.Add(time.Hour)) || got.LockOwner != nil {
		t.Errorf("resubmitted = %+v", got)
	}
	if len(fx.hinted) != 1 {
		t.Errorf("hinted = %v", fx.hinted)
	}

	if code := fx.do(t, http.MethodPost, "/v1/deadletters/y/resubmit", "", &got); code != http.StatusOK || got.Retries != 4 || !got.DueDate.Equal(t0) {
		t.Errorf("default resubmit: status = %d, job = %+v", code, got)
	}
	if code := fx.do(t, http.MethodPost, "/v1/deadletters/x/resubmit", "", nil); code != http.StatusNotFound {
		t.Errorf("second resubmit status = %d", code)
	}

	var c struct{ Count int64 }
	if fx.do(t, http.MethodGet, "/v1/deadletters/count", "", &c); c.Count != 0 {
		t.Errorf("remaining dead letters = %d", c.Count)
	}
}

func TestHistoric(t *testing.T) {
	fx := newFixture(t)
	fx.seed(t, job("h", "acme"))
	err := fx.store.ApplyOutcome(context.Background(), domain.KindJob, "h", domain.Outcome{
		Type: domain.OutcomeArchive, Owner: "node-a", StartedAt: t0, Now: t0.Add(time.Second),
	})
	if err != nil {
		t.Fatal(err)
	}

	var list []jobBody
	if code := fx.do(t, http.MethodGet, "/v1/historic?tenant_id=acme", "", &list); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("status = %d, list = %+v", code, list)
	}
	if !list[0].EndTime.Equal(t0.Add(time.Second)) {
		t.Errorf("end_time = %v", list[0].EndTime)
	}
	if code := fx.do(t, http.MethodGet, "/v1/historic?lease=locked", "", nil); code != http.StatusBadRequest {
		t.Errorf("lease filter on historic: status = %d", code)
	}

	var c struct{ Count int64 }
	if fx.do(t, http.MethodGet, "/v1/historic/count?tenant_id=other", "", &c); c.Count != 0 {
		t.Errorf("count = %d", c.Count)
	}
}

type downStore struct{ *memstore.Store }

func (downStore) Ping(context.Context) error { return context.DeadlineExceeded }

func TestHealth(t *testing.T) {
	fx := newFixture(t)
	if code := fx.do(t, http.MethodGet, "/healthz", "", nil); code != http.StatusOK {
		t.Errorf("status = %d", code)
	}

	srv := httptest.NewServer(api.New(downStore{memstore.New()}).Routes())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
