// Package remote talks to the media server HTTP APIs. Emby and Jellyfin share
// most of their API shape but differ in URL prefixes and auth headers, so each
// gets its own Backend implementation behind a common interface.
package remote

import (
	"context"
	"time"

	"github.com/streampanel/streampanel/internal/database"
)

const (
	// ProbeTimeout bounds the cheap liveness check against /System/Info.
	ProbeTimeout = 10 * time.Second
	// ListTimeout bounds device/session/user listing calls.
	ListTimeout = 15 * time.Second
	// DeleteTimeout bounds destructive calls, which some servers are slow to
	// serve while they tear down sessions.
	DeleteTimeout = 30 * time.Second
)

// Device is a registered playback device on a media server. UserId can be
// empty on devices that lost their association after an account deletion, in
// which case LastUserName is the only remaining link to the owning account.
type Device struct {
	Id           string `json:"Id"`
	Name         string `json:"Name"`
	AppName      string `json:"AppName"`
	UserId       string `json:"UserId"`
	LastUserId   string `json:"LastUserId"`
	LastUserName string `json:"LastUserName"`
	LastActivity string `json:"DateLastActivity"`
}

// Session is an in-flight playback session.
type Session struct {
	Id       string `json:"Id"`
	UserId   string `json:"UserId"`
	DeviceId string `json:"DeviceId"`
}

// User is a media server account as the server reports it.
type User struct {
	Id     string     `json:"Id"`
	Name   string     `json:"Name"`
	Policy UserPolicy `json:"Policy"`
}

// UserPolicy carries the subset of the server-side policy we care about.
type UserPolicy struct {
	IsAdministrator bool `json:"IsAdministrator"`
}

// Status is a point-in-time health snapshot of one media server.
type Status struct {
	Online         bool
	Version        string
	ServerName     string
	ActiveSessions int
}

// CreatedUser is returned by CreateUser with the server-assigned identity.
type CreatedUser struct {
	Id       string
	Name     string
	Password string
}

// CreateUserRequest carries the plan-derived knobs a new account is
// provisioned with.
type CreateUserRequest struct {
	Username     string
	Password     string
	StreamLimit  int
	EnableLiveTv bool
}

// Backend is a client for one media server. Implementations are stateless:
// every method builds its requests from the Server row it is given, so one
// Backend value serves all servers of its service type.
type Backend interface {
	// Service returns the service name this backend speaks, e.g. "EMBY".
	Service() string
	// ListDevices returns every registered device on the server.
	ListDevices(ctx context.Context, server *database.Server) ([]Device, error)
	// ListSessions returns the sessions the server currently considers active.
	ListSessions(ctx context.Context, server *database.Server) ([]Session, error)
	// ListUsers returns every account that exists on the server.
	ListUsers(ctx context.Context, server *database.Server) ([]User, error)
	// UserExists reports whether the given server-side user id still exists.
	// On transport errors it errs on the side of true so callers never treat
	// an unreachable server as proof of deletion.
	UserExists(ctx context.Context, server *database.Server, userId string) (bool, error)
	// CreateUser provisions a new account and applies the plan policy.
	CreateUser(ctx context.Context, server *database.Server, req CreateUserRequest) (*CreatedUser, error)
	// DeleteUser removes the account. A 404 is success: the desired end state
	// is "user absent" and something else already got it there.
	DeleteUser(ctx context.Context, server *database.Server, userId string) error
	// DeleteDevice unregisters the device. Uses a fresh HTTP client per call
	// so a long classification pass beforehand cannot leave it holding a
	// stale connection.
	DeleteDevice(ctx context.Context, server *database.Server, deviceId string) error
	// Status probes the server for liveness and session count.
	Status(ctx context.Context, server *database.Server) (*Status, error)
}

// Backends returns one Backend per supported service, keyed by service name.
func Backends() map[string]Backend {
	return map[string]Backend{
		database.ServiceEmby:     NewEmbyBackend(),
		database.ServiceJellyfin: NewJellyfinBackend(),
	}
}
