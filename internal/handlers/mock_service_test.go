package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"pellet_dispenser/internal/models"
	"pellet_dispenser/internal/service"

	"github.com/gin-gonic/gin"
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

type mockDispenser struct {
	connectErr    error
	disconnectErr error
	commandErr    error
	refillErr     error

	lastPort       string
	lastCommand    service.CommandParams
	connectCalls   int
	disconnectCall int
	commandCalls   int
	refillCalls    int
}

func (m *mockDispenser) Connect(_ context.Context, port string) error {
	m.connectCalls++
	m.lastPort = port
	return m.connectErr
}

func (m *mockDispenser) Disconnect(context.Context) error {
	m.disconnectCall++
	return m.disconnectErr
}

func (m *mockDispenser) Command(_ context.Context, p service.CommandParams) error {
	m.commandCalls++
	m.lastCommand = p
	return m.commandErr
}

func (m *mockDispenser) Refill(context.Context) error {
	m.refillCalls++
	return m.refillErr
}

// mockMonitoring serves a fixed state and lets tests push snapshots to
// subscribers.
type mockMonitoring struct {
	state models.DeviceState
	err   error

	mu          sync.Mutex
	subscribers map[int]func(models.DeviceState)
	nextID      int
	subscribed  chan struct{}
}

func (m *mockMonitoring) GetState(context.Context) (models.DeviceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.err
}

func (m *mockMonitoring) Subscribe(fn func(models.DeviceState)) func() {
	m.mu.Lock()
	if m.subscribers == nil {
		m.subscribers = map[int]func(models.DeviceState){}
	}
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	subscribed := m.subscribed
	m.mu.Unlock()
	if subscribed != nil {
		subscribed <- struct{}{}
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

func (m *mockMonitoring) push(st models.DeviceState) {
	m.mu.Lock()
	fns := make([]func(models.DeviceState), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (m *mockMonitoring) subscriberCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subscribers)
}

type mockEventLog struct {
	resp     []models.DispenserEvent
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockEventLog) List(_ context.Context, f service.LogFilter) ([]models.DispenserEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(s, nil)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
