package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/cohort/internal/config"
	"github.com/ehr/cohort/internal/domain/cohort"
	"github.com/ehr/cohort/internal/platform/db"
	"github.com/ehr/cohort/internal/platform/metrics"
)

const stateJSON = `{
  "criteriaGroup": [
    {"id": 0, "title": "Groupe principal", "type": "AND", "criteriaIds": [1, 2], "isInclusive": true, "isSubGroup": false}
  ],
  "selectedCriteria": [
    {"id": 1, "title": "Femmes", "type": "Patient", "fields": {"genders": ["f"]}},
    {"id": 2, "title": "HTA", "type": "Condition", "fields": {"code": [{"system": "cim10", "code": "I10"}]}}
  ],
  "nextCriteriaId": 3,
  "nextGroupId": -1
}`

func writeState(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write state: %v", err)
	}
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCompileCommand(t *testing.T) {
	out, err := runCLI(t, "", "compile", "--file", writeState(t, stateJSON), "--source-population", "118,119")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	var comp cohort.Compilation
	if err := json.Unmarshal([]byte(out), &comp); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if comp.AccessTier != cohort.TierPseudonymized {
		t.Errorf("expected pseudonymized tier, got %s", comp.AccessTier)
	}
	if comp.Request.SourcePopulation == nil || len(comp.Request.SourcePopulation.CaresiteCohortList) != 2 {
		t.Errorf("expected two care sites, got %+v", comp.Request.SourcePopulation)
	}
	if comp.Request.Request == nil || len(comp.Request.Request.Criteria) != 2 {
		t.Fatalf("expected two criteria under the root, got %+v", comp.Request.Request)
	}
	if got := comp.Request.Request.Criteria[1].FilterFhir; got != "subject.active=true&code=cim10|I10" {
		t.Errorf("unexpected condition filter %q", got)
	}
}

func TestCompileCommand_Stdin(t *testing.T) {
	out, err := runCLI(t, stateJSON, "compile", "--file", "-")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !strings.Contains(out, `"filterFhir": "active=true&gender=f"`) {
		t.Errorf("expected patient filter in output:\n%s", out)
	}
}

func TestCompileCommand_Errors(t *testing.T) {
	if _, err := runCLI(t, "", "compile"); err == nil {
		t.Error("expected error without --file")
	}
	if _, err := runCLI(t, "", "compile", "--file", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for a missing file")
	}
	if _, err := runCLI(t, "", "compile", "--file", writeState(t, "{not json")); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestClassifyCommand(t *testing.T) {
	nominative := strings.Replace(stateJSON, `{"genders": ["f"]}`, `{"identifier": "8012345"}`, 1)
	out, err := runCLI(t, "", "classify", "--file", writeState(t, nominative))
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	var cls cohort.Classification
	if err := json.Unmarshal([]byte(out), &cls); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if !cls.Nominative || cls.AccessTier != cohort.TierNominative {
		t.Errorf("expected nominative tier, got %+v", cls)
	}
}

func TestPrintStatuses(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatuses(&buf, []db.MigrationStatus{
		{Version: 1, Name: "001_cohort_snapshots.sql", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "002_next.sql"},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", buf.String())
	}
	if !strings.Contains(lines[1], "applied") || !strings.Contains(lines[1], "2024-05-01 08:30:00") {
		t.Errorf("unexpected applied row %q", lines[1])
	}
	if !strings.Contains(lines[2], "pending") {
		t.Errorf("unexpected pending row %q", lines[2])
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Port:           "0",
		Env:            "test",
		LogLevel:       "info",
		DBMaxConns:     10,
		DBMinConns:     2,
		MetricsEnabled: true,
		RequestTimeout: 5 * time.Second,
		BodyLimit:      "1M",
		CORSOrigins:    []string{"http://localhost:3000"},
	}
}

func TestNewServer_Routes(t *testing.T) {
	e := newServer(testConfig(), zerolog.Nop(), nil, metrics.New(nil))

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/health/db", "", http.StatusNotFound},
		{http.MethodPost, "/api/v1/cohort/compile", `{"state":` + stateJSON + `}`, http.StatusOK},
		{http.MethodPost, "/api/v1/cohort/classify", `{"state":` + stateJSON + `}`, http.StatusOK},
		{http.MethodGet, "/api/v1/cohort/requests/r1/snapshots", "", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var req *http.Request
			if tt.body == "" {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			} else {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
				req.Header.Set("Content-Type", "application/json")
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("expected X-Request-ID on every response")
			}
		})
	}
}

func TestNewServer_MetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEnabled = false
	e := newServer(cfg, zerolog.Nop(), nil, metrics.New(nil))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 with metrics disabled, got %d", rec.Code)
	}
}

func TestNewServer_CompileRecordsMetrics(t *testing.T) {
	e := newServer(testConfig(), zerolog.Nop(), nil, metrics.New(nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cohort/compile", strings.NewReader(`{"state":`+stateJSON+`}`))
	req.Header.Set("Content-Type", "application/json")
	e.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `cohort_criteria_compiled_total{resource_type="Condition"} 1`) {
		t.Errorf("expected compiled criteria counter in exposition:\n%s", rec.Body.String())
	}
}
