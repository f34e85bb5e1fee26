package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	httptrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/net/http"
	"gorm.io/gorm"

	"github.com/streampanel/streampanel/internal/database"
	"github.com/streampanel/streampanel/internal/lockset"
	"github.com/streampanel/streampanel/internal/provision"
	"github.com/streampanel/streampanel/internal/reconcile"
	"github.com/streampanel/streampanel/internal/remote"
)

var testDB *database.DB

const testDBDSN = "file::memory:?_journal_mode=WAL&cache=shared"

func TestMain(m *testing.M) {
	db, err := database.OpenSQLite(testDBDSN, &gorm.Config{})
	if err != nil {
		panic(fmt.Errorf("failed to connect to the DB: %w", err))
	}
	underlyingDb, err := db.DB.DB()
	if err != nil {
		panic(fmt.Errorf("failed to access underlying DB: %w", err))
	}
	underlyingDb.SetMaxOpenConns(1)
	db.Exec("PRAGMA journal_mode = WAL")
	if err := db.AddDatabaseTables(); err != nil {
		panic(fmt.Errorf("failed to add database tables: %w", err))
	}
	if err := db.CreateIndices(); err != nil {
		panic(fmt.Errorf("failed to create indices: %w", err))
	}

	testDB = db

	os.Exit(m.Run())
}

func wipeTables(t *testing.T) {
	t.Helper()
	require.NoError(t, testDB.Unsafe_WipeDbTables(context.Background()))
}

// stubBackend provisions users without talking to anything.
type stubBackend struct{}

func (stubBackend) Service() string { return database.ServiceEmby }

func (stubBackend) ListDevices(context.Context, *database.Server) ([]remote.Device, error) {
	return nil, nil
}

func (stubBackend) ListSessions(context.Context, *database.Server) ([]remote.Session, error) {
	return nil, nil
}

func (stubBackend) ListUsers(context.Context, *database.Server) ([]remote.User, error) {
	return nil, nil
}

func (stubBackend) UserExists(context.Context, *database.Server, string) (bool, error) {
	return false, nil
}

func (stubBackend) CreateUser(_ context.Context, _ *database.Server, req remote.CreateUserRequest) (*remote.CreatedUser, error) {
	return &remote.CreatedUser{Id: "svc-" + req.Username, Name: req.Username}, nil
}

func (stubBackend) DeleteUser(context.Context, *database.Server, string) error { return nil }

func (stubBackend) DeleteDevice(context.Context, *database.Server, string) error { return nil }

func (stubBackend) Status(context.Context, *database.Server) (*remote.Status, error) {
	return &remote.Status{Online: true}, nil
}

func testServer(t *testing.T) (*Server, *httptrace.ServeMux) {
	t.Helper()
	backends := map[string]remote.Backend{database.ServiceEmby: stubBackend{}}
	locks := lockset.New()
	engine := reconcile.NewEngine(testDB, locks, backends)
	provisioner := provision.NewService(testDB, locks, backends, nil, nil)
	s := NewServer(testDB, engine, WithProvisioner(provisioner), IsTestEnvironment(true))
	mux := httptrace.NewServeMux()
	s.registerHandlers(mux, mergeMiddlewares(withPanicGuard(), withLogging(nil, io.Discard)))
	return s, mux
}

func TestHealthcheck(t *testing.T) {
	wipeTables(t)
	_, mux := testServer(t)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/healthcheck", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "OK", w.Body.String())
}

func TestStatsListsServers(t *testing.T) {
	wipeTables(t)
	ctx := context.Background()
	require.NoError(t, testDB.CreateServer(ctx, &database.Server{
		Name: "emby-main", Service: database.ServiceEmby, Url: "http://media.example.com",
		MaxUsers: 10, CurrentUsers: 3, IsActive: true,
	}))
	_, mux := testServer(t)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/internal/api/v1/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "emby-main")
	require.Contains(t, w.Body.String(), "EMBY")
}

func TestTriggerReaperEmptyDb(t *testing.T) {
	wipeTables(t)
	_, mux := testServer(t)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/trigger-reaper", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Reaped 0 expired accounts")
}

func TestTriggerReaperRemovesExpired(t *testing.T) {
	wipeTables(t)
	ctx := context.Background()
	server := &database.Server{Name: "emby-main", Service: database.ServiceEmby, Url: "http://x", MaxUsers: 10, CurrentUsers: 1, IsActive: true}
	require.NoError(t, testDB.CreateServer(ctx, server))
	require.NoError(t, testDB.CreateAccount(ctx, &database.Account{
		UserId: 1, Service: database.ServiceEmby, Username: "old", ServerId: server.ID,
		ServiceUserId: "svc-old", ExpiryDate: time.Now().Add(-time.Hour), IsActive: true,
	}))

	_, mux := testServer(t)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/trigger-reaper", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Reaped 1 expired accounts")
}

func TestCreateAccountEndpoint(t *testing.T) {
	wipeTables(t)
	ctx := context.Background()
	require.NoError(t, testDB.CreateServer(ctx, &database.Server{
		Name: "emby-main", Service: database.ServiceEmby, Url: "http://x", MaxUsers: 10, IsActive: true,
	}))

	_, mux := testServer(t)
	body, _ := json.Marshal(createAccountRequest{UserId: 1, Service: database.ServiceEmby, Plan: "1_screen"})
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/create-account", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	var created provision.CreatedAccount
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.Username)
	require.Equal(t, "emby-main", created.ServerName)
}

func TestCreateAccountRejectsFullServer(t *testing.T) {
	wipeTables(t)
	ctx := context.Background()
	require.NoError(t, testDB.CreateServer(ctx, &database.Server{
		Name: "emby-main", Service: database.ServiceEmby, Url: "http://x", MaxUsers: 5, CurrentUsers: 5, IsActive: true,
	}))

	_, mux := testServer(t)
	body, _ := json.Marshal(createAccountRequest{UserId: 1, Service: database.ServiceEmby, Plan: "1_screen"})
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/create-account", bytes.NewReader(body)))
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestWipeDbTablesOnlyRoutedInTestEnvironment(t *testing.T) {
	wipeTables(t)
	engine := reconcile.NewEngine(testDB, lockset.New(), nil)
	s := NewServer(testDB, engine) // not a test environment
	mux := httptrace.NewServeMux()
	s.registerHandlers(mux, mergeMiddlewares(withPanicGuard(), withLogging(nil, io.Discard)))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/wipe-db-tables", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
}
