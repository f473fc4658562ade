package census

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHandler_Put(t *testing.T) {
	svc, repo, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()

	body := `{"overall":"120","icu":"8","icu_vent":6,"med_central":""}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("date")
	c.SetParamValues("2024-01-20")

	if err := h.Put(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	stored := repo.store["2024-01-20"]
	if stored == nil || stored.Overall.Patients != 120 || stored.ICU.Vent != 6 {
		t.Fatalf("unexpected stored census: %+v", stored)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m["date"] != "2024-01-20" || m["icu"] != 8.0 {
		t.Errorf("unexpected response: %v", m)
	}
}

func TestHandler_Put_FutureDate(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("date")
	c.SetParamValues("2030-01-01")

	err := h.Put(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Get_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("date")
	c.SetParamValues("2024-01-01")

	err := h.Get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_List(t *testing.T) {
	svc, _, _ := newTestService()
	for _, d := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		if err := svc.Record(context.Background(), &DailyCensus{Date: d}); err != nil {
			t.Fatal(err)
		}
	}
	h := NewHandler(svc)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?from=2024-01-02&limit=1", nil), rec)

	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data    []map[string]interface{} `json:"data"`
		Total   int                      `json:"total"`
		HasMore bool                     `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || len(resp.Data) != 1 || !resp.HasMore {
		t.Errorf("unexpected page: total=%d len=%d more=%v", resp.Total, len(resp.Data), resp.HasMore)
	}
}

func TestHandler_Delete(t *testing.T) {
	svc, repo, _ := newTestService()
	if err := svc.Record(context.Background(), &DailyCensus{Date: "2024-01-05"}); err != nil {
		t.Fatal(err)
	}
	h := NewHandler(svc)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/", nil), rec)
	c.SetParamNames("date")
	c.SetParamValues("2024-01-05")

	if err := h.Delete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent || len(repo.store) != 0 {
		t.Errorf("expected 204 and empty store, got %d / %d", rec.Code, len(repo.store))
	}
}
