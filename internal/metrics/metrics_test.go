package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestHandler_ExposesPipelineMetrics(t *testing.T) {
	RecordPlan(2, 3)
	RecordScan(150 * time.Millisecond)
	RecordStep("embed", errors.New("boom"))
	RecordStep("keywords", nil)
	RecordSuggestions(5)
	RecordRerank("applied")
	RecordCacheLoad("corrupt", 1)
	SetDocuments(4)

	body := scrape(t)
	for _, want := range []string{
		`ansuz_planner_plans_total`,
		`ansuz_planner_files_total{decision="skip"}`,
		`ansuz_scan_duration_seconds_count`,
		`ansuz_scan_steps_total{outcome="error",stage="embed"}`,
		`ansuz_scan_steps_total{outcome="ok",stage="keywords"}`,
		`ansuz_suggest_candidates_count`,
		`ansuz_suggest_rerank_total{outcome="applied"}`,
		`ansuz_cache_loads_total{result="corrupt"}`,
		`ansuz_cache_documents 4`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestRecordCacheLoad_IgnoresZero(t *testing.T) {
	RecordCacheLoad("legacy", 0)
	if strings.Contains(scrape(t), `ansuz_cache_loads_total{result="legacy"}`) {
		t.Error("zero count should not create a series")
	}
}
