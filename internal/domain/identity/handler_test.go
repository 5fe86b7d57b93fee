package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	return NewHandler(newTestService()), echo.New()
}

func jsonContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectHTTPStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestHandler_CreatePatient(t *testing.T) {
	h, e := newTestHandler()
	c, rec := jsonContext(e, http.MethodPost, "/api/patients",
		`{"name":"Li Lei","id_card":"110101199001011234","birth_date":"1990-01-01"}`)

	if err := h.CreatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var p Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.Name != "Li Lei" || !p.IsActive || *p.BirthDate != "1990-01-01" {
		t.Errorf("unexpected patient: %+v", p)
	}
}

func TestHandler_CreatePatient_BadRequest(t *testing.T) {
	h, e := newTestHandler()
	c, _ := jsonContext(e, http.MethodPost, "/api/patients", `{"id_card":"X"}`)
	expectHTTPStatus(t, h.CreatePatient(c), http.StatusBadRequest)
}

func TestHandler_CreatePatient_Conflict(t *testing.T) {
	h, e := newTestHandler()
	body := `{"name":"A","id_card":"DUP"}`
	c, _ := jsonContext(e, http.MethodPost, "/api/patients", body)
	if err := h.CreatePatient(c); err != nil {
		t.Fatal(err)
	}
	c, _ = jsonContext(e, http.MethodPost, "/api/patients", body)
	expectHTTPStatus(t, h.CreatePatient(c), http.StatusConflict)
}

func TestHandler_GetPatient(t *testing.T) {
	h, e := newTestHandler()
	p := &Patient{Name: "Jane", IDCard: "J1"}
	if err := h.svc.CreatePatient(context.Background(), p); err != nil {
		t.Fatal(err)
	}

	c, rec := jsonContext(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.GetPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetPatient_Errors(t *testing.T) {
	h, e := newTestHandler()

	c, _ := jsonContext(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	expectHTTPStatus(t, h.GetPatient(c), http.StatusBadRequest)

	c, _ = jsonContext(e, http.MethodGet, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	expectHTTPStatus(t, h.GetPatient(c), http.StatusNotFound)
}

func TestHandler_ListPatients(t *testing.T) {
	h, e := newTestHandler()
	ctx := context.Background()
	_ = h.svc.CreatePatient(ctx, &Patient{Name: "Alice", IDCard: "1"})
	_ = h.svc.CreatePatient(ctx, &Patient{Name: "Bob", IDCard: "2"})

	c, rec := jsonContext(e, http.MethodGet, "/api/patients?search=ali&page=1&per_page=10", "")
	if err := h.ListPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Data        []Patient `json:"data"`
		Total       int       `json:"total"`
		Pages       int       `json:"pages"`
		CurrentPage int       `json:"current_page"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Data[0].Name != "Alice" {
		t.Errorf("expected Alice only, got %+v", resp)
	}
	if resp.Pages != 1 || resp.CurrentPage != 1 {
		t.Errorf("expected pages=1 current_page=1, got %d/%d", resp.Pages, resp.CurrentPage)
	}
}

func TestHandler_UpdatePatient(t *testing.T) {
	h, e := newTestHandler()
	p := &Patient{Name: "Jane", IDCard: "J1"}
	_ = h.svc.CreatePatient(context.Background(), p)

	c, rec := jsonContext(e, http.MethodPut, "/", `{"phone":"555-0100"}`)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.UpdatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got Patient
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Phone == nil || *got.Phone != "555-0100" || got.Name != "Jane" {
		t.Errorf("unexpected patient after update: %+v", got)
	}
}

func TestHandler_DeactivatePatient(t *testing.T) {
	h, e := newTestHandler()
	p := &Patient{Name: "Jane", IDCard: "J1"}
	_ = h.svc.CreatePatient(context.Background(), p)

	c, rec := jsonContext(e, http.MethodDelete, "/", "")
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())
	if err := h.DeactivatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "deactivated") {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_CreateDoctor(t *testing.T) {
	h, e := newTestHandler()
	c, rec := jsonContext(e, http.MethodPost, "/api/doctors",
		`{"name":"Wang","title":"Attending","dept_id":"D01","dept_name":"Cardiology","license_no":"L-9"}`)
	if err := h.CreateDoctor(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c, _ = jsonContext(e, http.MethodPost, "/api/doctors", `{"name":"Wang"}`)
	expectHTTPStatus(t, h.CreateDoctor(c), http.StatusBadRequest)
}

func TestHandler_ListDoctors_DeptFilter(t *testing.T) {
	h, e := newTestHandler()
	ctx := context.Background()
	a := validDoctor()
	b := validDoctor()
	b.LicenseNo, b.DeptID = "LIC-2", "D09"
	_ = h.svc.CreateDoctor(ctx, a)
	_ = h.svc.CreateDoctor(ctx, b)

	c, rec := jsonContext(e, http.MethodGet, "/api/doctors?dept_id=D09", "")
	if err := h.ListDoctors(c); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected one doctor, got %s", rec.Body.String())
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	h, e := newTestHandler()
	h.RegisterRoutes(e.Group("/api"))

	want := map[string]bool{
		"GET /api/patients":        false,
		"POST /api/patients":       false,
		"DELETE /api/patients/:id": false,
		"PUT /api/doctors/:id":     false,
		"GET /api/doctors/:id":     false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}
