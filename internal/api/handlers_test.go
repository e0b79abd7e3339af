// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/cmdgate/internal/audit"
	"github.com/tomtom215/cmdgate/internal/auth"
	"github.com/tomtom215/cmdgate/internal/config"
	"github.com/tomtom215/cmdgate/internal/dispatch"
	"github.com/tomtom215/cmdgate/internal/executor"
	"github.com/tomtom215/cmdgate/internal/models"
	"github.com/tomtom215/cmdgate/internal/policy"
	"github.com/tomtom215/cmdgate/internal/store"
)

// fakeExecutor records spawns. result, when set, builds the Result; block
// makes Execute wait for Cancel or context cancellation.
type fakeExecutor struct {
	spawns atomic.Int32
	err    error
	block  bool
	result func(command string) *executor.Result

	mu      sync.Mutex
	running map[string]chan struct{}
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{running: make(map[string]chan struct{})}
}

func (f *fakeExecutor) Execute(ctx context.Context, command string, limits executor.Limits) (*executor.Result, error) {
	f.spawns.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if f.block {
		ch := make(chan struct{})
		f.mu.Lock()
		f.running[limits.ExecutionID] = ch
		f.mu.Unlock()
		defer func() {
			f.mu.Lock()
			delete(f.running, limits.ExecutionID)
			f.mu.Unlock()
		}()
		select {
		case <-ch:
		case <-ctx.Done():
		}
		return &executor.Result{ExecutionID: limits.ExecutionID, ExitCode: -1, Canceled: true, Error: "canceled"}, nil
	}
	if f.result != nil {
		res := f.result(command)
		res.ExecutionID = limits.ExecutionID
		return res, nil
	}
	return &executor.Result{
		ExecutionID: limits.ExecutionID,
		Success:     true,
		Stdout:      "ran: " + command + "\n",
		Duration:    15 * time.Millisecond,
	}, nil
}

func (f *fakeExecutor) Cancel(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.running[id]
	if ok {
		close(ch)
		delete(f.running, id)
	}
	return ok
}

func (f *fakeExecutor) inFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.running)
}

// pingStore lets readiness tests fail the store ping.
type pingStore struct {
	*store.MemoryStore
	pingErr error
}

func (s *pingStore) Ping(ctx context.Context) error {
	if s.pingErr != nil {
		return s.pingErr
	}
	return s.MemoryStore.Ping(ctx)
}

type apiFixture struct {
	creds   *pingStore
	exec    *fakeExecutor
	events  *audit.MemoryStore
	handler http.Handler
	bob     *store.UserRecord
	alice   *store.UserRecord
	db1     *store.Instance
	db2     *store.Instance
}

func newAPIFixture(t *testing.T, mw *ChiMiddlewareConfig) *apiFixture {
	t.Helper()
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	f := &apiFixture{
		creds:  &pingStore{MemoryStore: store.NewMemoryStore()},
		exec:   newFakeExecutor(),
		events: audit.NewMemoryStore(1000),
	}
	f.bob = &store.UserRecord{Username: "bob", AllowedResource: "small", PasswordHash: string(hash)}
	f.alice = &store.UserRecord{Username: "alice", PasswordHash: string(hash)}
	for _, err := range []error{
		f.creds.CreateUser(ctx, f.bob),
		f.creds.CreateUser(ctx, f.alice),
		f.creds.CreateAdmin(ctx, &store.AdminRecord{Username: "root", PasswordHash: string(hash)}),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}
	f.db1 = &store.Instance{Name: "db1", OwnerID: f.bob.ID}
	f.db2 = &store.Instance{Name: "db2", OwnerID: f.alice.ID}
	for _, inst := range []*store.Instance{f.db1, f.db2} {
		if err := f.creds.CreateInstance(ctx, inst); err != nil {
			t.Fatal(err)
		}
	}

	cfg := &config.Config{
		Exec: config.ExecConfig{MaxCommandBytes: 1024},
	}

	lockout := auth.NewLockoutManager(auth.LockoutConfig{
		MaxAttempts:        3,
		LockoutDuration:    time.Minute,
		MaxLockoutDuration: time.Hour,
	})
	authenticator := auth.NewAuthenticator(f.creds, auth.NewMemorySessionStore(), lockout, auth.Config{SessionTTL: time.Hour})

	caps, err := policy.NewCapabilities(policy.CapabilitiesConfig{})
	if err != nil {
		t.Fatal(err)
	}
	engine := policy.NewEngine(policy.Config{
		ForbiddenTokens:  config.DefaultForbiddenTokens,
		RootTokens:       config.DefaultRootTokens,
		ForbiddenOptions: config.DefaultForbiddenOptions,
		Capabilities:     caps,
	})

	auditLog := audit.NewLogger(f.events, audit.Config{Enabled: true, BufferSize: 256})
	t.Cleanup(func() { _ = auditLog.Close() })

	svc := dispatch.NewService(authenticator, f.creds, engine, f.exec, auditLog, dispatch.Config{MaxCommandBytes: cfg.Exec.MaxCommandBytes})
	sessions := auth.NewMiddleware(authenticator, auth.MiddlewareConfig{OnError: SessionErrorWriter()})

	if mw == nil {
		mw = &ChiMiddlewareConfig{RateLimitDisabled: true}
	}
	h := NewHandler(Deps{
		Config:        cfg,
		Store:         f.creds,
		Authenticator: authenticator,
		Sessions:      sessions,
		Dispatcher:    svc,
		Programs:      engine,
		Audit:         auditLog,
	})
	f.handler = NewRouter(h, sessions, NewChiMiddleware(mw)).SetupChi()
	return f
}

type envelope struct {
	Status   string           `json:"status"`
	Data     json.RawMessage  `json:"data"`
	Metadata models.Metadata  `json:"metadata"`
	Error    *models.APIError `json:"error"`
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	env := decodeEnvelope(t, rec)
	if env.Status != "success" {
		t.Fatalf("status = %q, error = %+v", env.Status, env.Error)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func (f *apiFixture) login(t *testing.T, role, username, password string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", models.LoginRequest{Role: role, Username: username, Password: password}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s/%s: %d %s", role, username, rec.Code, rec.Body.String())
	}
	var resp models.LoginResponse
	decodeData(t, rec, &resp)
	return resp.SessionToken
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) *models.APIError {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d: %s", rec.Code, status, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	if env.Status != "error" || env.Error == nil {
		t.Fatalf("expected error envelope, got %s", rec.Body.String())
	}
	if env.Error.Code != code {
		t.Errorf("code = %s, want %s", env.Error.Code, code)
	}
	return env.Error
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLogin_UserSetsCookieAndToken(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", models.LoginRequest{Role: "user", Username: "bob", Password: "hunter22"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.LoginResponse
	decodeData(t, rec, &resp)
	if resp.SessionToken == "" || resp.ExpiresAt.IsZero() {
		t.Errorf("response = %+v", resp)
	}
	if resp.Principal == nil || resp.Principal.ID != f.bob.ID || resp.Principal.Role != store.RoleStandardUser {
		t.Errorf("principal = %+v", resp.Principal)
	}

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "cmdgate_session" {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != resp.SessionToken || !cookie.HttpOnly {
		t.Errorf("session cookie = %+v", cookie)
	}

	// the cookie alone authenticates
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.AddCookie(cookie)
	me := httptest.NewRecorder()
	f.handler.ServeHTTP(me, req)
	var meResp models.MeResponse
	decodeData(t, me, &meResp)
	if meResp.Principal.Name != "bob" {
		t.Errorf("me = %+v", meResp.Principal)
	}
	found := false
	for _, p := range meResp.PermittedPrograms {
		if p == "ls" {
			found = true
		}
	}
	if !found {
		t.Errorf("permitted programs %v missing ls", meResp.PermittedPrograms)
	}
}

func TestLogin_Admin(t *testing.T) {
	f := newAPIFixture(t, nil)
	tok := f.login(t, "admin", "root", "hunter22")

	var me models.MeResponse
	decodeData(t, f.do(t, http.MethodGet, "/api/v1/auth/me", nil, tok), &me)
	if me.Principal.Role != store.RoleAdministrator {
		t.Errorf("role = %s", me.Principal.Role)
	}
	if len(me.PermittedPrograms) != 0 {
		t.Errorf("admin permitted programs = %v, want none", me.PermittedPrograms)
	}
}

func TestLogin_Errors(t *testing.T) {
	f := newAPIFixture(t, nil)

	tests := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"invalid json", "{", http.StatusBadRequest, models.ErrCodeInvalidJSON},
		{"empty body", "", http.StatusBadRequest, models.ErrCodeInvalidJSON},
		{"missing role", map[string]string{"username": "bob", "password": "x"}, http.StatusBadRequest, models.ErrCodeMissingField},
		{"unknown role", map[string]string{"role": "root", "username": "bob", "password": "x"}, http.StatusBadRequest, models.ErrCodeValidation},
		{"missing username", map[string]string{"role": "user", "password": "x"}, http.StatusBadRequest, models.ErrCodeMissingField},
		{"admin without password", map[string]string{"role": "admin", "username": "root"}, http.StatusBadRequest, models.ErrCodeMissingField},
		{"user without password", map[string]string{"role": "user", "username": "bob"}, http.StatusBadRequest, models.ErrCodeMissingField},
		{"wrong password", map[string]string{"role": "user", "username": "alice", "password": "nope"}, http.StatusUnauthorized, models.ErrCodeInvalidCredential},
		{"unknown user", map[string]string{"role": "user", "username": "mallory", "password": "nope"}, http.StatusUnauthorized, models.ErrCodeInvalidCredential},
		{"user as admin", map[string]string{"role": "admin", "username": "bob", "password": "hunter22"}, http.StatusUnauthorized, models.ErrCodeInvalidCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, f.do(t, http.MethodPost, "/api/v1/auth/login", tt.body, ""), tt.status, tt.code)
		})
	}
}

func TestLogin_LockoutReturns429(t *testing.T) {
	f := newAPIFixture(t, nil)
	bad := models.LoginRequest{Role: "user", Username: "bob", Password: "wrong"}

	for i := 0; i < 2; i++ {
		expectError(t, f.do(t, http.MethodPost, "/api/v1/auth/login", bad, ""), http.StatusUnauthorized, models.ErrCodeInvalidCredential)
	}
	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", bad, "")
	expectError(t, rec, http.StatusTooManyRequests, models.ErrCodeAccountLocked)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// locked even with the right password
	good := models.LoginRequest{Role: "user", Username: "bob", Password: "hunter22"}
	expectError(t, f.do(t, http.MethodPost, "/api/v1/auth/login", good, ""), http.StatusTooManyRequests, models.ErrCodeAccountLocked)

	// other accounts are unaffected
	f.login(t, "user", "alice", "hunter22")

	waitFor(t, func() bool {
		n, _ := f.events.Count(context.Background(), audit.QueryFilter{Types: []audit.EventType{audit.EventTypeAuthLockout}})
		return n >= 2
	})
}

func TestLogout(t *testing.T) {
	f := newAPIFixture(t, nil)
	tok := f.login(t, "user", "bob", "hunter22")

	rec := f.do(t, http.MethodPost, "/api/v1/auth/logout", nil, tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}
	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == "cmdgate_session" && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("session cookie not cleared")
	}

	expectError(t, f.do(t, http.MethodGet, "/api/v1/auth/me", nil, tok), http.StatusUnauthorized, models.ErrCodeInvalidSession)
	expectError(t, f.do(t, http.MethodPost, "/api/v1/auth/logout", nil, tok), http.StatusUnauthorized, models.ErrCodeInvalidSession)
}

func TestSubmitCommand_Allowed(t *testing.T) {
	f := newAPIFixture(t, nil)
	tok := f.login(t, "user", "bob", "hunter22")

	rec := f.do(t, http.MethodPost, "/api/v1/commands", models.CommandRequest{InstanceID: f.db1.ID, Command: "ls -la"}, tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp models.CommandResponse
	decodeData(t, rec, &resp)
	if !resp.Success || resp.ExitCode != 0 || resp.Stdout != "ran: ls -la\n" {
		t.Errorf("response = %+v", resp)
	}
	if resp.ExecutionID == "" || resp.DurationMS != 15 {
		t.Errorf("execution id %q, duration %d", resp.ExecutionID, resp.DurationMS)
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}
}

func TestSubmitCommand_FailureIsData(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.exec.result = func(string) *executor.Result {
		return &executor.Result{ExitCode: 2, Stderr: "ls: cannot access 'nope'\n", TimedOut: false}
	}
	tok := f.login(t, "user", "bob", "hunter22")

	rec := f.do(t, http.MethodPost, "/api/v1/commands", models.CommandRequest{InstanceID: f.db1.ID, Command: "ls nope"}, tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a failed command", rec.Code)
	}
	var resp models.CommandResponse
	decodeData(t, rec, &resp)
	if resp.Success || resp.ExitCode != 2 || resp.Stderr == "" {
		t.Errorf("response = %+v", resp)
	}

	f.exec.result = func(string) *executor.Result {
		return &executor.Result{ExitCode: -1, TimedOut: true, Error: "timed out"}
	}
	rec = f.do(t, http.MethodPost, "/api/v1/commands", models.CommandRequest{InstanceID: f.db1.ID, Command: "sleep 60"}, tok)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a timed out command", rec.Code)
	}
	decodeData(t, rec, &resp)
	if !resp.TimedOut {
		t.Errorf("timed_out = false")
	}
}

func TestSubmitCommand_Rejections(t *testing.T) {
	f := newAPIFixture(t, nil)
	bob := f.login(t, "user", "bob", "hunter22")
	alice := f.login(t, "user", "alice", "hunter22")
	root := f.login(t, "admin", "root", "hunter22")

	tests := []struct {
		name   string
		token  string
		body   interface{}
		status int
		code   string
		reason policy.Reason
	}{
		{"no token", "", models.CommandRequest{InstanceID: f.db1.ID, Command: "ls"}, http.StatusBadRequest, models.ErrCodeMissingField, ""},
		{"bad token", "deadbeef", models.CommandRequest{InstanceID: f.db1.ID, Command: "ls"}, http.StatusUnauthorized, models.ErrCodeInvalidSession, ""},
		{"missing instance", bob, models.CommandRequest{Command: "ls"}, http.StatusBadRequest, models.ErrCodeMissingField, ""},
		{"missing command", bob, models.CommandRequest{InstanceID: f.db1.ID}, http.StatusBadRequest, models.ErrCodeMissingField, ""},
		{"command too large", bob, models.CommandRequest{InstanceID: f.db1.ID, Command: "echo " + strings.Repeat("a", 2000)}, http.StatusBadRequest, models.ErrCodeCommandTooLarge, ""},
		{"body too large", bob, `{"instance_id":"x","command":"` + strings.Repeat("a", 20000) + `"}`, http.StatusBadRequest, models.ErrCodeCommandTooLarge, ""},
		{"bad execution id", bob, models.CommandRequest{InstanceID: f.db1.ID, Command: "ls", ExecutionID: "nope"}, http.StatusBadRequest, models.ErrCodeValidation, ""},
		{"invalid json", bob, "[", http.StatusBadRequest, models.ErrCodeInvalidJSON, ""},
		{"other tenant", alice, models.CommandRequest{InstanceID: f.db1.ID, Command: "ls"}, http.StatusForbidden, models.ErrCodeForbidden, policy.ReasonNotOwner},
		{"unknown instance", bob, models.CommandRequest{InstanceID: "no-such-instance", Command: "ls"}, http.StatusForbidden, models.ErrCodeForbidden, policy.ReasonNotOwner},
		{"admin", root, models.CommandRequest{InstanceID: f.db1.ID, Command: "ls"}, http.StatusForbidden, models.ErrCodeForbidden, policy.ReasonWrongInterface},
		{"forbidden", bob, models.CommandRequest{InstanceID: f.db1.ID, Command: "reboot now"}, http.StatusForbidden, models.ErrCodeForbidden, policy.ReasonForbiddenAction},
		{"root", bob, models.CommandRequest{InstanceID: f.db1.ID, Command: "sudo ls"}, http.StatusForbidden, models.ErrCodeForbidden, policy.ReasonRootNotAllowed},
		{"not permitted", bob, models.CommandRequest{InstanceID: f.db1.ID, Command: "curl example.com"}, http.StatusForbidden, models.ErrCodeForbidden, policy.ReasonNotPermitted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := expectError(t, f.do(t, http.MethodPost, "/api/v1/commands", tt.body, tt.token), tt.status, tt.code)
			if tt.reason != "" {
				if got, _ := apiErr.Details["reason"].(string); got != string(tt.reason) {
					t.Errorf("reason = %v, want %s", apiErr.Details["reason"], tt.reason)
				}
			}
		})
	}
	if n := f.exec.spawns.Load(); n != 0 {
		t.Errorf("spawns = %d, want 0", n)
	}
}

func TestSubmitCommand_InfrastructureFaultsAre500(t *testing.T) {
	f := newAPIFixture(t, nil)
	tok := f.login(t, "user", "bob", "hunter22")
	f.exec.err = executor.ErrSpawnFailure

	rec := f.do(t, http.MethodPost, "/api/v1/commands", models.CommandRequest{InstanceID: f.db1.ID, Command: "ls"}, tok)
	apiErr := expectError(t, rec, http.StatusInternalServerError, models.ErrCodeInternal)
	if apiErr.Message != internalErrorMessage {
		t.Errorf("message = %q leaks detail", apiErr.Message)
	}
	if strings.Contains(rec.Body.String(), "spawn") {
		t.Errorf("body leaks error text: %s", rec.Body.String())
	}
}

func TestCancelCommand(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.exec.block = true
	bob := f.login(t, "user", "bob", "hunter22")
	alice := f.login(t, "user", "alice", "hunter22")

	const id = "7d444840-9dc0-11d1-b245-5ffdce74fad2"
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- f.do(t, http.MethodPost, "/api/v1/commands", models.CommandRequest{InstanceID: f.db1.ID, Command: "sleep 60", ExecutionID: id}, bob)
	}()
	waitFor(t, func() bool { return f.exec.inFlight() == 1 })

	expectError(t, f.do(t, http.MethodDelete, "/api/v1/commands/"+id, nil, ""), http.StatusUnauthorized, models.ErrCodeInvalidSession)
	expectError(t, f.do(t, http.MethodDelete, "/api/v1/commands/"+id, nil, alice), http.StatusNotFound, models.ErrCodeNotFound)

	rec := f.do(t, http.MethodDelete, "/api/v1/commands/"+id, nil, bob)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("cancel status = %d: %s", rec.Code, rec.Body.String())
	}

	select {
	case rec := <-done:
		var resp models.CommandResponse
		decodeData(t, rec, &resp)
		if !resp.Canceled || resp.ExecutionID != id {
			t.Errorf("response = %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("submission did not return after cancel")
	}

	expectError(t, f.do(t, http.MethodDelete, "/api/v1/commands/"+id, nil, bob), http.StatusNotFound, models.ErrCodeNotFound)
}

func TestListMyInstances(t *testing.T) {
	f := newAPIFixture(t, nil)

	var list models.ListResponse[store.Instance]
	decodeData(t, f.do(t, http.MethodGet, "/api/v1/instances", nil, f.login(t, "user", "bob", "hunter22")), &list)
	if list.Total != 1 || list.Items[0].ID != f.db1.ID {
		t.Errorf("instances = %+v", list)
	}

	expectError(t, f.do(t, http.MethodGet, "/api/v1/instances", nil, f.login(t, "admin", "root", "hunter22")),
		http.StatusForbidden, models.ErrCodeForbidden)
	expectError(t, f.do(t, http.MethodGet, "/api/v1/instances", nil, ""), http.StatusUnauthorized, models.ErrCodeInvalidSession)
}

func TestAdminRoutes_RequireAdministrator(t *testing.T) {
	f := newAPIFixture(t, nil)
	bob := f.login(t, "user", "bob", "hunter22")

	for _, path := range []string{"/api/v1/admin/users", "/api/v1/admin/instances", "/api/v1/admin/audit"} {
		expectError(t, f.do(t, http.MethodGet, path, nil, bob), http.StatusForbidden, models.ErrCodeForbidden)
		expectError(t, f.do(t, http.MethodGet, path, nil, ""), http.StatusUnauthorized, models.ErrCodeInvalidSession)
	}
}

func TestAdmin_UserAndInstanceLifecycle(t *testing.T) {
	f := newAPIFixture(t, nil)
	root := f.login(t, "admin", "root", "hunter22")

	rec := f.do(t, http.MethodPost, "/api/v1/admin/users", models.CreateUserRequest{Username: "carol", AllowedResource: "large"}, root)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create user = %d: %s", rec.Code, rec.Body.String())
	}
	var carol models.UserView
	decodeData(t, rec, &carol)
	if carol.ID == "" || carol.HasPassword || strings.Contains(rec.Body.String(), "password_hash") {
		t.Errorf("user view = %s", rec.Body.String())
	}

	expectError(t, f.do(t, http.MethodPost, "/api/v1/admin/users", models.CreateUserRequest{Username: "carol"}, root),
		http.StatusConflict, models.ErrCodeConflict)
	expectError(t, f.do(t, http.MethodPost, "/api/v1/admin/users", models.CreateUserRequest{Username: "c@rol"}, root),
		http.StatusBadRequest, models.ErrCodeValidation)

	var users models.ListResponse[models.UserView]
	decodeData(t, f.do(t, http.MethodGet, "/api/v1/admin/users", nil, root), &users)
	if users.Total != 3 {
		t.Errorf("users = %d, want 3", users.Total)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/admin/instances", models.CreateInstanceRequest{OwnerID: carol.ID, Name: "db3"}, root)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create instance = %d: %s", rec.Code, rec.Body.String())
	}
	var db3 store.Instance
	decodeData(t, rec, &db3)
	if db3.OwnerID != carol.ID {
		t.Errorf("instance = %+v", db3)
	}
	expectError(t, f.do(t, http.MethodPost, "/api/v1/admin/instances", models.CreateInstanceRequest{OwnerID: "ghost", Name: "x"}, root),
		http.StatusNotFound, models.ErrCodeNotFound)
	expectError(t, f.do(t, http.MethodPost, "/api/v1/admin/instances", models.CreateInstanceRequest{OwnerID: carol.ID}, root),
		http.StatusBadRequest, models.ErrCodeMissingField)

	var all models.ListResponse[store.Instance]
	decodeData(t, f.do(t, http.MethodGet, "/api/v1/admin/instances", nil, root), &all)
	if all.Total != 3 {
		t.Errorf("instances = %d, want 3", all.Total)
	}
	var owned models.ListResponse[store.Instance]
	decodeData(t, f.do(t, http.MethodGet, "/api/v1/admin/instances?owner_id="+carol.ID, nil, root), &owned)
	if owned.Total != 1 {
		t.Errorf("carol's instances = %d, want 1", owned.Total)
	}

	rec = f.do(t, http.MethodDelete, "/api/v1/admin/instances/"+db3.ID, nil, root)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete instance = %d", rec.Code)
	}
	expectError(t, f.do(t, http.MethodDelete, "/api/v1/admin/instances/"+db3.ID, nil, root), http.StatusNotFound, models.ErrCodeNotFound)
}

func TestAdmin_UpdateUserAppliesWithoutRelogin(t *testing.T) {
	f := newAPIFixture(t, nil)
	root := f.login(t, "admin", "root", "hunter22")
	bob := f.login(t, "user", "bob", "hunter22")

	cmd := models.CommandRequest{InstanceID: f.db1.ID, Command: "sudo ls"}
	expectError(t, f.do(t, http.MethodPost, "/api/v1/commands", cmd, bob), http.StatusForbidden, models.ErrCodeForbidden)

	allow := true
	rec := f.do(t, http.MethodPatch, "/api/v1/admin/users/"+f.bob.ID, models.UpdateUserRequest{AllowedRoot: &allow}, root)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch = %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/v1/commands", cmd, bob)
	if rec.Code != http.StatusOK {
		t.Fatalf("after grant: %d %s", rec.Code, rec.Body.String())
	}

	expectError(t, f.do(t, http.MethodPatch, "/api/v1/admin/users/ghost", models.UpdateUserRequest{AllowedRoot: &allow}, root),
		http.StatusNotFound, models.ErrCodeNotFound)
}

func TestAdmin_PasswordChangeRevokesSessions(t *testing.T) {
	f := newAPIFixture(t, nil)
	root := f.login(t, "admin", "root", "hunter22")
	bob := f.login(t, "user", "bob", "hunter22")

	pw := "correcthorse"
	rec := f.do(t, http.MethodPatch, "/api/v1/admin/users/"+f.bob.ID, models.UpdateUserRequest{Password: &pw}, root)
	if rec.Code != http.StatusOK {
		t.Fatalf("patch = %d: %s", rec.Code, rec.Body.String())
	}
	expectError(t, f.do(t, http.MethodGet, "/api/v1/auth/me", nil, bob), http.StatusUnauthorized, models.ErrCodeInvalidSession)
	f.login(t, "user", "bob", pw)
}

func TestAdmin_DeleteUserRevokesSessions(t *testing.T) {
	f := newAPIFixture(t, nil)
	root := f.login(t, "admin", "root", "hunter22")
	bob := f.login(t, "user", "bob", "hunter22")

	rec := f.do(t, http.MethodDelete, "/api/v1/admin/users/"+f.bob.ID, nil, root)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d: %s", rec.Code, rec.Body.String())
	}

	expectError(t, f.do(t, http.MethodGet, "/api/v1/auth/me", nil, bob), http.StatusUnauthorized, models.ErrCodeInvalidSession)
	expectError(t, f.do(t, http.MethodPost, "/api/v1/commands", models.CommandRequest{InstanceID: f.db1.ID, Command: "ls"}, bob),
		http.StatusUnauthorized, models.ErrCodeInvalidSession)
	expectError(t, f.do(t, http.MethodDelete, "/api/v1/admin/users/"+f.bob.ID, nil, root), http.StatusNotFound, models.ErrCodeNotFound)

	waitFor(t, func() bool {
		n, _ := f.events.Count(context.Background(), audit.QueryFilter{
			Types:    []audit.EventType{audit.EventTypeUserDeleted},
			TargetID: f.bob.ID,
		})
		return n == 1
	})
}

func TestAdmin_CreateAdmin(t *testing.T) {
	f := newAPIFixture(t, nil)
	root := f.login(t, "admin", "root", "hunter22")

	expectError(t, f.do(t, http.MethodPost, "/api/v1/admin/admins", models.CreateAdminRequest{Username: "ops", Password: "short"}, root),
		http.StatusBadRequest, models.ErrCodeValidation)

	rec := f.do(t, http.MethodPost, "/api/v1/admin/admins", models.CreateAdminRequest{Username: "ops", Password: "longenough"}, root)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create admin = %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Errorf("response leaks password: %s", rec.Body.String())
	}
	f.login(t, "admin", "ops", "longenough")

	expectError(t, f.do(t, http.MethodPost, "/api/v1/admin/admins", models.CreateAdminRequest{Username: "ops", Password: "longenough"}, root),
		http.StatusConflict, models.ErrCodeConflict)
}

func TestListAuditEvents(t *testing.T) {
	f := newAPIFixture(t, nil)
	root := f.login(t, "admin", "root", "hunter22")
	bob := f.login(t, "user", "bob", "hunter22")
	f.do(t, http.MethodPost, "/api/v1/commands", models.CommandRequest{InstanceID: f.db1.ID, Command: "reboot"}, bob)

	var data struct {
		Events []audit.Event `json:"events"`
	}
	waitFor(t, func() bool {
		rec := f.do(t, http.MethodGet, "/api/v1/admin/audit?type=authz.denied&actor_id="+f.bob.ID, nil, root)
		decodeData(t, rec, &data)
		return len(data.Events) == 1
	})
	ev := data.Events[0]
	if ev.Source.IPAddress != "192.0.2.1" {
		t.Errorf("source = %+v", ev.Source)
	}
	if ev.RequestID == "" {
		t.Error("request id not recorded")
	}

	expectError(t, f.do(t, http.MethodGet, "/api/v1/admin/audit?limit=0", nil, root), http.StatusBadRequest, models.ErrCodeValidation)
	expectError(t, f.do(t, http.MethodGet, "/api/v1/admin/audit?start=yesterday", nil, root), http.StatusBadRequest, models.ErrCodeValidation)
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, nil)

	if rec := f.do(t, http.MethodGet, "/api/v1/health/live", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("live = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/health/ready", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("ready = %d", rec.Code)
	}

	f.creds.pingErr = store.ErrStoreUnavailable
	rec := f.do(t, http.MethodGet, "/api/v1/health/ready", nil, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("ready with store down = %d, want 503", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Status != "not_ready" {
		t.Errorf("status = %q", env.Status)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/health/live", nil, ""); rec.Code != http.StatusOK {
		t.Errorf("live with store down = %d", rec.Code)
	}
}

func TestRouter_MetricsAndFallbacks(t *testing.T) {
	f := newAPIFixture(t, nil)

	// populate at least one API series
	f.do(t, http.MethodGet, "/api/v1/health/live", nil, "")
	rec := f.do(t, http.MethodGet, "/metrics", nil, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "api_requests_total") {
		t.Errorf("metrics = %d", rec.Code)
	}

	expectError(t, f.do(t, http.MethodGet, "/api/v1/nope", nil, ""), http.StatusNotFound, models.ErrCodeNotFound)
	expectError(t, f.do(t, http.MethodGet, "/api/v1/commands", nil, ""), http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED")

	rec = f.do(t, http.MethodGet, "/api/v1/health/live", nil, "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	if env := decodeEnvelope(t, rec); env.Metadata.RequestID != rec.Header().Get("X-Request-ID") {
		t.Errorf("metadata request id %q != header %q", env.Metadata.RequestID, rec.Header().Get("X-Request-ID"))
	}
}
