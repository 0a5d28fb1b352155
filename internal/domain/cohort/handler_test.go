package cohort

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))
	return h, e
}

func jsonBody(t *testing.T, v interface{}) *strings.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return strings.NewReader(string(raw))
}

func serve(e *echo.Echo, method, path string, body *strings.Reader) *httptest.ResponseRecorder {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, body)
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCompileHandler(t *testing.T) {
	_, e := newTestHandler()
	body := jsonBody(t, compileRequest{State: sampleState(t), SourcePopulation: []string{"118"}})

	rec := serve(e, http.MethodPost, "/api/v1/cohort/compile", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out Compilation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, TierPseudonymized, out.AccessTier)
	require.NotNil(t, out.Request.Request)
	assert.Equal(t, "andGroup", out.Request.Request.Type)
	assert.Equal(t, []string{"subject.active=true", "code=cim10|I10"}, out.Filters[KindCondition])
}

func TestCompileHandler_RawPayload(t *testing.T) {
	_, e := newTestHandler()
	payload := `{"state":{
		"criteriaGroup":[{"id":0,"title":"G","type":"AND","criteriaIds":[1],"isInclusive":true,"isSubGroup":false}],
		"selectedCriteria":[{"id":1,"title":"IPP","type":"Patient","fields":{"identifier":"42"}}],
		"nextCriteriaId":2,"nextGroupId":-1}}`

	rec := serve(e, http.MethodPost, "/api/v1/cohort/compile", strings.NewReader(payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out Compilation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Nominative)
	assert.Equal(t, "active=true&identifier=42", out.Request.Request.Criteria[0].FilterFhir)
}

func TestCompileHandler_BadJSON(t *testing.T) {
	_, e := newTestHandler()
	rec := serve(e, http.MethodPost, "/api/v1/cohort/compile", strings.NewReader(`{"state":`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClassifyHandler(t *testing.T) {
	_, e := newTestHandler()
	state, _, err := NewState().AddLeaf(RootGroupID, NewLeaf("Naissance", PatientCriteria{
		BirthDates: &DateRange{Start: "1950-01-01"},
	}))
	require.NoError(t, err)

	rec := serve(e, http.MethodPost, "/api/v1/cohort/classify", jsonBody(t, compileRequest{State: state}))
	require.Equal(t, http.StatusOK, rec.Code)
	var out Classification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Nominative)
	assert.Equal(t, TierNominative, out.AccessTier)
}

func TestMutateHandler(t *testing.T) {
	_, e := newTestHandler()
	leaf := NewLeaf("Femmes", PatientCriteria{Genders: []string{"f"}})
	body := jsonBody(t, mutateRequest{
		State:    NewState(),
		Mutation: Mutation{Op: OpAddLeaf, ParentID: RootGroupID, Criterion: &leaf},
	})

	rec := serve(e, http.MethodPost, "/api/v1/cohort/mutations", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out MutationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.NodeID)
	got, ok := out.State.Leaf(1)
	require.True(t, ok)
	assert.Equal(t, PatientCriteria{Genders: []string{"f"}}, got.Fields)
}

func TestMutateHandler_Errors(t *testing.T) {
	_, e := newTestHandler()

	rec := serve(e, http.MethodPost, "/api/v1/cohort/mutations", jsonBody(t, mutateRequest{
		State:    NewState(),
		Mutation: Mutation{Op: OpDeleteGroup, ID: RootGroupID},
	}))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(e, http.MethodPost, "/api/v1/cohort/mutations", jsonBody(t, mutateRequest{
		State:    NewState(),
		Mutation: Mutation{Op: OpAddGroup, ParentID: 7},
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(e, http.MethodPost, "/api/v1/cohort/mutations", jsonBody(t, mutateRequest{
		State:    NewState(),
		Mutation: Mutation{Op: OpDeleteLeaf, ID: 9},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"notFound":true`)
}

func TestSnapshotHandlers(t *testing.T) {
	_, e := newTestHandler()

	rec := serve(e, http.MethodPost, "/api/v1/cohort/requests/req-9/snapshots", jsonBody(t, compileRequest{State: sampleState(t)}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created snapshotResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotNil(t, created.Snapshot)
	assert.Equal(t, "req-9", created.Snapshot.RequestID)

	rec = serve(e, http.MethodGet, "/api/v1/cohort/requests/req-9/snapshots?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []Snapshot `json:"items"`
		Total int        `json:"total"`
		Limit int        `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 5, page.Limit)
	require.Len(t, page.Items, 1)
	assert.Equal(t, created.Snapshot.ID, page.Items[0].ID)

	rec = serve(e, http.MethodGet, "/api/v1/cohort/snapshots/"+created.Snapshot.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(e, http.MethodGet, "/api/v1/cohort/snapshots/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(e, http.MethodGet, "/api/v1/cohort/snapshots/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSnapshotHandlers_NoStore(t *testing.T) {
	h := NewHandler(NewService(nil, zerolog.Nop()))
	e := echo.New()
	h.RegisterRoutes(e.Group("/api/v1"))

	rec := serve(e, http.MethodGet, "/api/v1/cohort/requests/req-1/snapshots", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMutateHandler_StateWithoutCounters(t *testing.T) {
	_, e := newTestHandler()
	payload := `{"state":` + hostStateWithoutCounters + `,
		"mutation":{"op":"addLeaf","parentId":0,"criterion":{"title":"IPP","type":"Patient","fields":{"identifier":"123"}}}}`

	rec := serve(e, http.MethodPost, "/api/v1/cohort/mutations", strings.NewReader(payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out MutationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 3, out.NodeID)
	assert.Empty(t, out.State.Validate())
	assert.True(t, IsNominative(out.State.Leaves()))
}
