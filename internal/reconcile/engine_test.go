package reconcile

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/streampanel/streampanel/internal/database"
	"github.com/streampanel/streampanel/internal/lockset"
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
	for _, table := range []string{"accounts", "servers", "users"} {
		require.NoError(t, testDB.Exec("DELETE FROM "+table).Error)
	}
}

// fakeBackend is an in-memory Backend whose remote state tests arrange
// directly. Keyed by server id so one fake can serve multiple servers.
type fakeBackend struct {
	mu             sync.Mutex
	service        string
	devices        map[uint][]remote.Device
	sessions       map[uint][]remote.Session
	users          map[uint][]remote.User
	listErr        map[uint]error
	deleteUserErr  map[string]error
	deletedUsers   []string
	deletedDevices []string
	status         map[uint]*remote.Status
}

func newFakeBackend(service string) *fakeBackend {
	return &fakeBackend{
		service:       service,
		devices:       make(map[uint][]remote.Device),
		sessions:      make(map[uint][]remote.Session),
		users:         make(map[uint][]remote.User),
		listErr:       make(map[uint]error),
		deleteUserErr: make(map[string]error),
		status:        make(map[uint]*remote.Status),
	}
}

func (f *fakeBackend) Service() string { return f.service }

func (f *fakeBackend) ListDevices(_ context.Context, server *database.Server) ([]remote.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[server.ID]; err != nil {
		return nil, err
	}
	return f.devices[server.ID], nil
}

func (f *fakeBackend) ListSessions(_ context.Context, server *database.Server) ([]remote.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[server.ID], nil
}

func (f *fakeBackend) ListUsers(_ context.Context, server *database.Server) ([]remote.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[server.ID]; err != nil {
		return nil, err
	}
	return f.users[server.ID], nil
}

func (f *fakeBackend) UserExists(_ context.Context, server *database.Server, userId string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users[server.ID] {
		if user.Id == userId {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBackend) CreateUser(_ context.Context, server *database.Server, req remote.CreateUserRequest) (*remote.CreatedUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("created-%s", req.Username)
	f.users[server.ID] = append(f.users[server.ID], remote.User{Id: id, Name: req.Username})
	return &remote.CreatedUser{Id: id, Name: req.Username, Password: req.Password}, nil
}

func (f *fakeBackend) DeleteUser(_ context.Context, server *database.Server, userId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.deleteUserErr[userId]; err != nil {
		return err
	}
	f.deletedUsers = append(f.deletedUsers, userId)
	users := f.users[server.ID]
	for i, user := range users {
		if user.Id == userId {
			f.users[server.ID] = append(users[:i], users[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeBackend) DeleteDevice(_ context.Context, server *database.Server, deviceId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedDevices = append(f.deletedDevices, deviceId)
	devices := f.devices[server.ID]
	for i, device := range devices {
		if device.Id == deviceId {
			f.devices[server.ID] = append(devices[:i], devices[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeBackend) Status(_ context.Context, server *database.Server) (*remote.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.status[server.ID]; ok {
		return status, nil
	}
	return &remote.Status{Online: false}, nil
}

func (f *fakeBackend) deletedDeviceIds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.deletedDevices))
	copy(out, f.deletedDevices)
	return out
}

func newTestEngine(t *testing.T, backends ...*fakeBackend) (*Engine, map[string]*fakeBackend) {
	t.Helper()
	byService := make(map[string]*fakeBackend)
	engineBackends := make(map[string]remote.Backend)
	for _, backend := range backends {
		byService[backend.service] = backend
		engineBackends[backend.service] = backend
	}
	engine := NewEngine(testDB, lockset.New(), engineBackends)
	return engine, byService
}
