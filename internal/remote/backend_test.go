package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streampanel/streampanel/internal/database"
)

func testServer(t *testing.T, handler http.HandlerFunc) *database.Server {
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return &database.Server{ID: 1, Name: "test", Url: ts.URL + "/", ApiKey: "secret", AdminId: "admin-1"}
}

func TestEmbyListDevicesEnvelope(t *testing.T) {
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/emby/Devices", r.URL.Path)
		require.Equal(t, "secret", r.URL.Query().Get("api_key"))
		require.Equal(t, "secret", r.Header.Get("X-Emby-Token"))
		w.Write([]byte(`{"Items":[{"Id":"d1","LastUserName":"alice","DateLastActivity":"2026-08-30T10:00:00Z"}]}`))
	})
	devices, err := NewEmbyBackend().ListDevices(context.Background(), server)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "alice", devices[0].LastUserName)
}

func TestJellyfinListDevicesBareArray(t *testing.T) {
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Devices", r.URL.Path)
		require.Contains(t, r.Header.Get("X-Emby-Authorization"), "MediaBrowser")
		w.Write([]byte(`[{"Id":"d1","LastUserId":"u1"}]`))
	})
	devices, err := NewJellyfinBackend().ListDevices(context.Background(), server)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "u1", devices[0].LastUserId)
}

func TestDeleteUserTreats404AsSuccess(t *testing.T) {
	for _, backend := range []Backend{NewEmbyBackend(), NewJellyfinBackend()} {
		server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "DELETE", r.Method)
			w.WriteHeader(http.StatusNotFound)
		})
		require.NoError(t, backend.DeleteUser(context.Background(), server, "gone"), backend.Service())
	}
}

func TestDeleteUserPropagatesServerError(t *testing.T) {
	for _, backend := range []Backend{NewEmbyBackend(), NewJellyfinBackend()} {
		server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		require.Error(t, backend.DeleteUser(context.Background(), server, "u1"), backend.Service())
	}
}

func TestUserExists(t *testing.T) {
	backend := NewEmbyBackend()
	found := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Id":"u1","Name":"alice"}`))
	})
	exists, err := backend.UserExists(context.Background(), found, "u1")
	require.NoError(t, err)
	require.True(t, exists)

	missing := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	exists, err = backend.UserExists(context.Background(), missing, "u1")
	require.NoError(t, err)
	require.False(t, exists)

	// A flaky server must not read as a confirmed deletion.
	broken := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	exists, err = backend.UserExists(context.Background(), broken, "u1")
	require.Error(t, err)
	require.True(t, exists)
}

func TestEmbyCreateUserFlow(t *testing.T) {
	var paths []string
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/emby/Users/New":
			require.NoError(t, r.ParseForm())
			require.Equal(t, "alice", r.PostForm.Get("Name"))
			require.Equal(t, "admin-1", r.PostForm.Get("CopyFromUserId"))
			w.Write([]byte(`{"Id":"u-new"}`))
		case "/emby/Users/u-new/Policy":
			w.WriteHeader(http.StatusNoContent)
		case "/emby/Users/u-new/Password":
			require.NoError(t, r.ParseForm())
			require.Equal(t, "hunter2", r.PostForm.Get("NewPw"))
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	created, err := NewEmbyBackend().CreateUser(context.Background(), server, CreateUserRequest{Username: "alice", Password: "hunter2", StreamLimit: 2})
	require.NoError(t, err)
	require.Equal(t, "u-new", created.Id)
	require.Equal(t, []string{"/emby/Users/New", "/emby/Users/u-new/Policy", "/emby/Users/u-new/Password"}, paths)
}

func TestJellyfinCreateUserFlow(t *testing.T) {
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Users/New":
			w.Write([]byte(`{"Id":"u-new","Name":"bob"}`))
		case "/Users/u-new/Policy":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	created, err := NewJellyfinBackend().CreateUser(context.Background(), server, CreateUserRequest{Username: "bob", Password: "pw", StreamLimit: 1})
	require.NoError(t, err)
	require.Equal(t, "u-new", created.Id)
}

func TestStatusOfflineServer(t *testing.T) {
	backend := NewJellyfinBackend()
	server := &database.Server{ID: 1, Name: "down", Url: "http://127.0.0.1:1", ApiKey: "k"}
	status, err := backend.Status(context.Background(), server)
	require.NoError(t, err)
	require.False(t, status.Online)
}

func TestStatusCountsDeviceSessions(t *testing.T) {
	server := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/emby/System/Info":
			w.Write([]byte(`{"Version":"4.8.9.0","ServerName":"main"}`))
		case "/emby/Sessions":
			w.Write([]byte(`[{"Id":"s1","DeviceId":"d1"},{"Id":"s2","DeviceId":""}]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	status, err := NewEmbyBackend().Status(context.Background(), server)
	require.NoError(t, err)
	require.True(t, status.Online)
	require.Equal(t, "main", status.ServerName)
	require.Equal(t, 1, status.ActiveSessions)
}

func TestBackendsRegistry(t *testing.T) {
	backends := Backends()
	require.Len(t, backends, 2)
	require.Equal(t, database.ServiceEmby, backends[database.ServiceEmby].Service())
	require.Equal(t, database.ServiceJellyfin, backends[database.ServiceJellyfin].Service())
}
