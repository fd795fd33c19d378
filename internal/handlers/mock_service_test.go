package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"machine_monitor/internal/models"
	"machine_monitor/internal/repository"
	"machine_monitor/internal/service"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(_ context.Context, username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}

func (m *mockAuth) GenerateToken(_ context.Context, username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}

func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockMachines struct {
	machines []models.Machine
	err      error
	getErr   error
}

func (m *mockMachines) ListMachines(context.Context) ([]models.Machine, error) {
	return m.machines, m.err
}

func (m *mockMachines) RefreshMachines(ctx context.Context) ([]models.Machine, error) {
	return m.ListMachines(ctx)
}

func (m *mockMachines) GetMachine(_ context.Context, id string) (models.Machine, error) {
	if m.getErr != nil {
		return models.Machine{}, m.getErr
	}
	for _, mc := range m.machines {
		if mc.ID == id {
			return mc, nil
		}
	}
	return models.Machine{}, repository.ErrMachineNotFound
}

type mockHistory struct {
	intervals []models.StateInterval
	err       error
	closedIDs []string
	closedN   int

	lastQuery      service.IntervalQuery
	lastClosed     string
	closeAllCalled int
}

func (m *mockHistory) Observe(context.Context, string, *models.Telemetry, models.MachineState) bool {
	return false
}

func (m *mockHistory) CloseAll(context.Context) ([]string, error) {
	m.closeAllCalled++
	return m.closedIDs, m.err
}

func (m *mockHistory) CloseMachine(_ context.Context, id string) (int, error) {
	m.lastClosed = id
	return m.closedN, m.err
}

func (m *mockHistory) Intervals(_ context.Context, q service.IntervalQuery) ([]models.StateInterval, error) {
	m.lastQuery = q
	if m.err != nil {
		return nil, m.err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return m.intervals, nil
}

type mockMonitor struct {
	current  []models.MachineStatus
	err      error
	opErr    error
	running  bool
	initN    int
	stopN    int
	resetN   int
	currentN int

	adapterReply json.RawMessage
	adapterErr   error
}

func (m *mockMonitor) Initialize(context.Context) error {
	m.initN++
	if m.opErr == nil {
		m.running = true
	}
	return m.opErr
}

func (m *mockMonitor) PollMachines(context.Context) []models.MachineStatus { return m.current }

func (m *mockMonitor) Stop(context.Context) error {
	m.stopN++
	m.running = false
	return m.opErr
}

func (m *mockMonitor) Reset(context.Context) error {
	m.resetN++
	m.running = false
	return m.opErr
}

func (m *mockMonitor) Current(context.Context) ([]models.MachineStatus, error) {
	m.currentN++
	return m.current, m.err
}

func (m *mockMonitor) Running() bool { return m.running }

func (m *mockMonitor) ResetFocasAdapter(context.Context) (json.RawMessage, error) {
	return m.adapterReply, m.adapterErr
}

type mockReporting struct {
	overview *models.Overview
	err      error
	last     service.OverviewParams
}

func (m *mockReporting) Overview(_ context.Context, p service.OverviewParams) (*models.Overview, error) {
	m.last = p
	return m.overview, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil, Options{})
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
