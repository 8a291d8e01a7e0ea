package statusserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mqttsn/gateway/internal/sngateway"
)

type fakeGatewaySource struct{ stats sngateway.Stats }

func (f fakeGatewaySource) Stats() sngateway.Stats { return f.stats }

func TestServer(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"status reports live stats", testStatusReportsLiveStats},
		{"metrics exposes named series", testMetricsExposesNamedSeries},
	}
	for _, test := range tests {
		t.Run(test.name, test.fct)
	}
}

func testStatusReportsLiveStats(t *testing.T) {
	gw := fakeGatewaySource{stats: sngateway.Stats{
		SessionsActive:    2,
		TopicMappings:     5,
		FramesDecoded:     10,
		SessionsLostTotal: 1,
	}}
	s := New(nil, &Config{}, gw)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	var got sngateway.Stats
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %s", err)
	}
	if got != gw.stats {
		t.Fatalf("status body = %+v, want %+v", got, gw.stats)
	}
}

func testMetricsExposesNamedSeries(t *testing.T) {
	gw := fakeGatewaySource{stats: sngateway.Stats{SessionsActive: 3, TopicMappings: 7}}
	s := New(nil, &Config{}, gw)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"mqttsn_sessions_active 3",
		"mqttsn_topic_mappings 7",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics body missing %q\nbody:\n%s", want, body)
		}
	}
}
