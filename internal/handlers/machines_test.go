package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"machine_monitor/internal/models"
	"machine_monitor/internal/service"
)

func doAuthed(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, vv := range authHeader("valid") {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	r.ServeHTTP(w, req)
	return w
}

func newMachineRouter(mm *mockMachines, hist *mockHistory, mon *mockMonitor) http.Handler {
	return newTestRouter(&service.Service{
		Authorization: &mockAuth{parseID: 7},
		Machines:      mm,
		History:       hist,
		Monitor:       mon,
	})
}

func TestMachineHandlers_RequireAuth(t *testing.T) {
	r := newMachineRouter(&mockMachines{}, &mockHistory{}, &mockMonitor{})
	for _, path := range []string{"/api/v1/machines", "/api/v1/machines/states", "/api/v1/machines/m1/intervals"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without auth, got %d", path, w.Code)
		}
	}
}

func TestMachineHandlers_ListAndGet(t *testing.T) {
	mm := &mockMachines{machines: []models.Machine{{ID: "m1", Name: "Haas VF-2", Enabled: true}}}
	r := newMachineRouter(mm, &mockHistory{}, &mockMonitor{})

	w := doAuthed(r, http.MethodGet, "/api/v1/machines")
	if w.Code != http.StatusOK {
		t.Fatalf("list status=%d body=%s", w.Code, w.Body.String())
	}
	var list struct {
		Count    int              `json:"count"`
		Machines []models.Machine `json:"machines"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if list.Count != 1 || list.Machines[0].Name != "Haas VF-2" {
		t.Fatalf("unexpected list: %+v", list)
	}

	if w := doAuthed(r, http.MethodGet, "/api/v1/machines/m1"); w.Code != http.StatusOK {
		t.Fatalf("get status=%d", w.Code)
	}
	if w := doAuthed(r, http.MethodGet, "/api/v1/machines/nope"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown machine, got %d", w.Code)
	}

	mm.err = errors.New("db down")
	if w := doAuthed(r, http.MethodGet, "/api/v1/machines"); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on registry error, got %d", w.Code)
	}
}

func TestMachineHandlers_States(t *testing.T) {
	mon := &mockMonitor{current: []models.MachineStatus{
		{MachineID: "m1", State: models.StateActive},
		{MachineID: "m2", State: models.StateOffline},
	}}
	r := newMachineRouter(&mockMachines{}, &mockHistory{}, mon)

	w := doAuthed(r, http.MethodGet, "/api/v1/machines/states")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var got []models.MachineStatus
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 || got[0].State != models.StateActive {
		t.Fatalf("unexpected states: %+v", got)
	}
}

func TestMachineHandlers_Intervals(t *testing.T) {
	hist := &mockHistory{intervals: []models.StateInterval{{ID: "iv1", MachineID: "m1", State: models.StateIdle}}}
	r := newMachineRouter(&mockMachines{}, hist, &mockMonitor{})

	w := doAuthed(r, http.MethodGet, "/api/v1/machines/m1/intervals?from=2025-08-01&to=2025-08-02&state=idle")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	q := hist.lastQuery
	if q.MachineID != "m1" || q.State != models.StateIdle {
		t.Fatalf("unexpected query: %+v", q)
	}
	wantFrom := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	wantTo := time.Date(2025, 8, 3, 0, 0, 0, 0, time.UTC)
	if !q.From.Equal(wantFrom) || !q.To.Equal(wantTo) {
		t.Fatalf("range: got [%s, %s), want [%s, %s)", q.From, q.To, wantFrom, wantTo)
	}

	cases := []struct {
		name string
		url  string
	}{
		{"bad from", "/api/v1/machines/m1/intervals?from=yesterday"},
		{"bad to", "/api/v1/machines/m1/intervals?to=soon"},
		{"bad state", "/api/v1/machines/m1/intervals?state=RUNNING"},
		{"unknown is not stored", "/api/v1/machines/m1/intervals?state=UNKNOWN"},
		{"inverted", "/api/v1/machines/m1/intervals?from=2025-08-05&to=2025-08-01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w := doAuthed(r, http.MethodGet, tc.url); w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d (body=%s)", w.Code, w.Body.String())
			}
		})
	}
}

func TestMachineHandlers_CloseIntervals(t *testing.T) {
	hist := &mockHistory{closedIDs: []string{"m1", "m2"}, closedN: 1}
	r := newMachineRouter(&mockMachines{}, hist, &mockMonitor{})

	w := doAuthed(r, http.MethodPost, "/api/v1/machines/m2/close")
	if w.Code != http.StatusOK || hist.lastClosed != "m2" {
		t.Fatalf("close machine: status=%d closed=%q", w.Code, hist.lastClosed)
	}

	w = doAuthed(r, http.MethodPost, "/api/v1/intervals/close-all")
	if w.Code != http.StatusOK {
		t.Fatalf("close-all status=%d body=%s", w.Code, w.Body.String())
	}
	var resp struct {
		Status   string   `json:"status"`
		Machines []string `json:"machines"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != statusOK || len(resp.Machines) != 2 || hist.closeAllCalled != 1 {
		t.Fatalf("unexpected close-all response: %+v", resp)
	}

	hist.err = errors.New("locked")
	if w := doAuthed(r, http.MethodPost, "/api/v1/intervals/close-all"); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
