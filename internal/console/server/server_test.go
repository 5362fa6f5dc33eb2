package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/constraint-ledger/internal/audit"
	"github.com/xela07ax/constraint-ledger/internal/console/handler"
	"github.com/xela07ax/constraint-ledger/internal/console/service"
	"github.com/xela07ax/constraint-ledger/internal/domain"
	"github.com/xela07ax/constraint-ledger/internal/engine"
	"github.com/xela07ax/constraint-ledger/internal/eventlog"
	"github.com/xela07ax/constraint-ledger/internal/infra/auth"
	"github.com/xela07ax/constraint-ledger/internal/store"
)

type env struct {
	srv   *ConsoleServer
	board *engine.Board
	now   time.Time
}

type options struct {
	log       eventlog.EventLog
	validator auth.TokenValidator
	audit     service.AuditLogProvider
}

func newEnv(t *testing.T, o options) *env {
	t.Helper()
	if o.log == nil {
		o.log = eventlog.NewMemory()
	}
	e := &env{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return e.now }

	board := engine.NewBoard(o.log, domain.Applier{Now: clock}, zap.NewNop())
	d := engine.NewDispatcher(o.log, engine.ConstraintRegistry(), engine.DispatcherConfig{},
		engine.WithPublisher(board), engine.WithClock(clock))
	st := store.NewAggregateConstraintStore(d, o.log)

	e.board = board
	e.srv = NewConsoleServer(zap.NewNop(), o.validator,
		handler.NewConstraintHandler(service.NewConstraintService(st, board), zap.NewNop()),
		handler.NewAuditHandler(service.NewAuditService(o.audit), zap.NewNop()),
	)
	return e
}

func (e *env) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		r.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, r)
	return w
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) handler.StatusResponse {
	t.Helper()
	var st handler.StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	return st
}

func TestHealth(t *testing.T) {
	e := newEnv(t, options{})
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", "").Code)
}

func TestConstraintLifecycle(t *testing.T) {
	e := newEnv(t, options{})

	w := e.do(t, http.MethodPost, "/v1/constraints/c1/claim", `{"duration":"10s"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeStatus(t, w).Success)

	w = e.do(t, http.MethodPost, "/v1/constraints/c1/validate", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	st := decodeStatus(t, w)
	assert.False(t, st.Success)
	assert.Equal(t, domain.ErrAlreadyClaimed.Message, st.Error)

	e.now = e.now.Add(11 * time.Second)

	w = e.do(t, http.MethodPost, "/v1/constraints/c1/validate", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodPost, "/v1/constraints/c1/validate", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, domain.ErrAlreadyValidated.Message, decodeStatus(t, w).Error)

	w = e.do(t, http.MethodGet, "/v1/constraints/c1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var view service.ConstraintView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&view))
	assert.Equal(t, "c1", view.ID)
	assert.Equal(t, domain.PhaseValidated, view.Phase)
	assert.Equal(t, int64(2), view.Version)

	w = e.do(t, http.MethodGet, "/v1/constraints/c1/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	var events []eventlog.Envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&events))
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventClaimed, events[0].Type)
	assert.Equal(t, domain.EventValidated, events[1].Type)
	assert.Equal(t, int64(2), events[1].Version)

	w = e.do(t, http.MethodGet, "/v1/constraints", "")
	require.Equal(t, http.StatusOK, w.Code)
	var board []engine.BoardEntry
	require.NoError(t, json.NewDecoder(w.Body).Decode(&board))
	require.Len(t, board, 1)
	assert.Equal(t, domain.PhaseValidated, board[0].Phase)
}

func TestRelease(t *testing.T) {
	e := newEnv(t, options{})

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/v1/constraints/c1/claim", `{"duration":"1m"}`).Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/v1/constraints/c1/release", "").Code)
	// после release активного захвата нет, валидация проходит сразу
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/v1/constraints/c1/validate", "").Code)
}

func TestUnknownConstraintIsIdle(t *testing.T) {
	e := newEnv(t, options{})

	w := e.do(t, http.MethodGet, "/v1/constraints/nope", "")
	require.Equal(t, http.StatusOK, w.Code)
	var view service.ConstraintView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&view))
	assert.Equal(t, domain.PhaseIdle, view.Phase)
	assert.Zero(t, view.Version)

	w = e.do(t, http.MethodGet, "/v1/constraints/nope/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestClaim_BadInput(t *testing.T) {
	e := newEnv(t, options{})

	tests := []struct {
		name string
		body string
	}{
		{"not json", `duration=10s`},
		{"bad duration", `{"duration":"ten seconds"}`},
		{"missing duration", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/v1/constraints/c1/claim", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	// в журнал ничего не попало
	assert.Empty(t, e.board.List())
}

type brokenLog struct{}

var errDown = errors.New("connection refused")

func (brokenLog) Load(context.Context, string) ([]eventlog.RecordedEvent, error) {
	return nil, errDown
}

func (brokenLog) Append(context.Context, string, int64, ...domain.Event) ([]eventlog.RecordedEvent, error) {
	return nil, errDown
}

func (brokenLog) IDs(context.Context) ([]string, error) { return nil, errDown }

func TestInfrastructureFailureIs500(t *testing.T) {
	e := newEnv(t, options{log: brokenLog{}})

	w := e.do(t, http.MethodPost, "/v1/constraints/c1/validate", "")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	st := decodeStatus(t, w)
	assert.False(t, st.Success)
	assert.Contains(t, st.Error, "connection refused")

	assert.Equal(t, http.StatusInternalServerError, e.do(t, http.MethodGet, "/v1/constraints/c1", "").Code)
	assert.Equal(t, http.StatusInternalServerError, e.do(t, http.MethodGet, "/v1/constraints/c1/events", "").Code)
}

func TestTraceIDEchoed(t *testing.T) {
	e := newEnv(t, options{})

	w := e.do(t, http.MethodGet, "/v1/constraints/c1", "", "X-Trace-ID", "trace-42")
	assert.Equal(t, "trace-42", w.Header().Get("X-Trace-ID"))

	w = e.do(t, http.MethodGet, "/health", "")
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

// staticValidator - токен это ключ в таблице.
type staticValidator map[string]*auth.Claims

func (v staticValidator) VerifyToken(token string) (*auth.Claims, error) {
	if c, ok := v[token]; ok {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

func TestAuth(t *testing.T) {
	e := newEnv(t, options{validator: staticValidator{
		"reader": {UserID: "r", Scopes: map[string]bool{"constraints:read": true}},
		"writer": {UserID: "w", Scopes: map[string]bool{auth.ScopeWrite: true}},
	}})

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"health is public", http.MethodGet, "/health", "", http.StatusOK},
		{"no token", http.MethodGet, "/v1/constraints", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/v1/constraints", "forged", http.StatusUnauthorized},
		{"reader can read", http.MethodGet, "/v1/constraints/c1", "reader", http.StatusOK},
		{"reader cannot write", http.MethodPost, "/v1/constraints/c1/release", "reader", http.StatusForbidden},
		{"writer can write", http.MethodPost, "/v1/constraints/c1/release", "writer", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var w *httptest.ResponseRecorder
			if tt.token != "" {
				w = e.do(t, tt.method, tt.path, "", "Authorization", tt.token)
			} else {
				w = e.do(t, tt.method, tt.path, "")
			}
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

type fakeAudit struct {
	records []audit.CommandRecord
	gotID   string
	gotLim  int
}

func (f *fakeAudit) ByConstraint(_ context.Context, id string, limit int) ([]audit.CommandRecord, error) {
	f.gotID, f.gotLim = id, limit
	return f.records, nil
}

func TestAuditLogs(t *testing.T) {
	repo := &fakeAudit{records: []audit.CommandRecord{
		{ID: "r1", ConstraintID: "c1", Command: "validate", Outcome: audit.OutcomeRejected, Reason: "already validated"},
	}}
	e := newEnv(t, options{audit: repo})

	w := e.do(t, http.MethodGet, "/v1/constraints/c1/audit?limit=20", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c1", repo.gotID)
	assert.Equal(t, 20, repo.gotLim)

	var got []audit.CommandRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, audit.OutcomeRejected, got[0].Outcome)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/v1/constraints/c1/audit?limit=x", "").Code)
}

func TestAuditLogs_NotQueryable(t *testing.T) {
	e := newEnv(t, options{})
	assert.Equal(t, http.StatusNotImplemented, e.do(t, http.MethodGet, "/v1/constraints/c1/audit", "").Code)
}
