package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup wires metrics to a manual reader and spans to memory.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader, useTestTracer(t)
}

// jobsMux mimics the API routes.
func jobsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "boom" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {})
	return mux
}

func durationPoints(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "stepforge.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	return met.Data.(metricdata.Histogram[float64]).DataPoints
}

func TestMiddleware_CorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)

	tests := []struct {
		name        string
		traceparent string
		want        string
	}{
		{name: "new trace"},
		{
			name:        "continued trace",
			traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
			want:        "4bf92f3577b34da6a3ce929d0e0e4736",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var inHandler string
			h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				inHandler = CorrelationID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/jobs/x", nil)
			if tc.traceparent != "" {
				req.Header.Set("traceparent", tc.traceparent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if len(inHandler) != 32 {
				t.Fatalf("handler correlation ID = %q", inHandler)
			}
			if tc.want != "" && inHandler != tc.want {
				t.Errorf("correlation ID = %q, want %q", inHandler, tc.want)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != inHandler {
				t.Errorf("X-Correlation-ID = %q, want %q", got, inHandler)
			}
		})
	}
}

func TestMiddleware_LabelsByRoute(t *testing.T) {
	m, reader, exp := testSetup(t)
	h := Middleware(m)(jobsMux())

	for _, id := range []string{"a1", "b2", "c3"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/jobs/"+id, nil))
	}

	points := durationPoints(t, reader)
	if len(points) != 1 {
		t.Fatalf("data points = %d, want 1", len(points))
	}
	if points[0].Count != 3 {
		t.Errorf("count = %d, want 3", points[0].Count)
	}
	for key, want := range map[attribute.Key]string{"method": "GET", "path": "GET /v1/jobs/{id}", "status": "2xx"} {
		if v, _ := points[0].Attributes.Value(key); v.AsString() != want {
			t.Errorf("%s = %q, want %q", key, v.AsString(), want)
		}
	}

	spans := exp.GetSpans()
	if len(spans) != 3 || spans[0].Name != "HTTP GET /v1/jobs/{id}" {
		t.Errorf("span name = %q", spans[0].Name)
	}
}

func TestMiddleware_UnroutedKeepsPath(t *testing.T) {
	m, reader, exp := testSetup(t)
	h := Middleware(m)(jobsMux())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	if v, _ := durationPoints(t, reader)[0].Attributes.Value("status"); v.AsString() != "4xx" {
		t.Errorf("status class = %q", v.AsString())
	}
	if name := exp.GetSpans()[0].Name; name != "HTTP GET /nope" {
		t.Errorf("span name = %q", name)
	}
}

func TestMiddleware_ServerErrorMarksSpan(t *testing.T) {
	m, _, exp := testSetup(t)
	h := Middleware(m)(jobsMux())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/jobs/boom", nil))

	span := exp.GetSpans()[0]
	if span.Status.Code != codes.Error {
		t.Errorf("span status = %v, want Error", span.Status.Code)
	}
	var found bool
	for _, a := range span.Attributes {
		if a.Key == "http.response.status_code" && a.Value.AsInt64() == 500 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code=500")
	}
}

func TestMiddleware_ProbesLogAtDebug(t *testing.T) {
	m, _, _ := testSetup(t)
	buf := captureLogs(t)
	h := Middleware(m)(jobsMux())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if strings.Contains(buf.String(), "request completed") {
		t.Errorf("probe logged at info: %s", buf)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/jobs/a", nil))
	if !strings.Contains(buf.String(), "route=\"GET /v1/jobs/{id}\"") {
		t.Errorf("api request not logged with route: %s", buf)
	}
}

func TestStatusClass(t *testing.T) {
	t.Parallel()
	for code, want := range map[int]string{200: "2xx", 202: "2xx", 404: "4xx", 503: "5xx"} {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}
