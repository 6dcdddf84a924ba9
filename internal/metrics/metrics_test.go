package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, path := range []string{"/items/1", "/items/2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := scrape(t, m)
	want := `http_requests_total{endpoint="/items/{id}",method="GET",status="418"} 2`
	if !strings.Contains(body, want) {
		t.Errorf("missing %q in:\n%s", want, body)
	}
	if !strings.Contains(body, `http_request_duration_seconds_count{endpoint="/items/{id}",method="GET"} 2`) {
		t.Error("missing duration histogram")
	}
}

func TestDomainCounters(t *testing.T) {
	m := New()
	m.Submission("ok")
	m.Submission("ok")
	m.Submission("duplicate")
	m.Imported("word", 12)
	m.Login("throttled")

	body := scrape(t, m)
	for _, want := range []string{
		`exam_submissions_total{outcome="ok"} 2`,
		`exam_submissions_total{outcome="duplicate"} 1`,
		`questions_imported_total{source="word"} 12`,
		`auth_logins_total{outcome="throttled"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q", want)
		}
	}
	if strings.Contains(body, `subject=`) {
		t.Error("submissions must not be labelled by client-supplied subject")
	}
}
