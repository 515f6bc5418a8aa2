package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	return string(body)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveNode("classify", 10*time.Millisecond, nil)
	m.ObserveNode("emotion_support", time.Second, errors.New("boom"))
	m.ObserveGenerator(nil, time.Second)
	m.ObserveGenerator(errors.New("down"), time.Second)
	m.ObserveGenerator(errors.New("down"), time.Second)
	m.StorageFailed("add_turn")
	m.TurnCompleted("casual")
	m.Swept(3)
	m.Swept(0)
	m.WSMessage("in")

	out := scrape(t, m)
	for _, want := range []string{
		`lifeos_node_errors_total{node="emotion_support"} 1`,
		`lifeos_node_duration_seconds_count{node="classify"} 1`,
		`lifeos_generator_requests_total{outcome="error"} 2`,
		`lifeos_generator_requests_total{outcome="ok"} 1`,
		`lifeos_storage_failures_total{op="add_turn"} 1`,
		`lifeos_turns_total{intent="casual"} 1`,
		`lifeos_memory_swept_total 3`,
		`lifeos_ws_messages_total{direction="in"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if strings.Contains(out, `lifeos_node_errors_total{node="classify"}`) {
		t.Error("successful node counted as error")
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveNode("x", time.Second, nil)
	m.ObserveGenerator(nil, 0)
	m.StorageFailed("x")
	m.TurnCompleted("x")
	m.Swept(1)
	m.WSMessage("in")
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	a := NewMetrics(prometheus.NewRegistry())
	b := NewMetrics(prometheus.NewRegistry())
	a.TurnCompleted("task")
	if strings.Contains(scrape(t, b), `intent="task"`) {
		t.Error("metrics leaked between registries")
	}
}
