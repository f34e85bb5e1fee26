package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/streampanel/streampanel/internal/database"
)

// jellyfinBackend speaks the Jellyfin dialect: same endpoints as Emby but
// without the /emby prefix, JSON request bodies, and a MediaBrowser
// authorization header instead of X-Emby-Token.
type jellyfinBackend struct{}

func NewJellyfinBackend() Backend {
	return &jellyfinBackend{}
}

func (b *jellyfinBackend) Service() string {
	return database.ServiceJellyfin
}

func (b *jellyfinBackend) newRequest(method string, server *database.Server, path string, query url.Values, body []byte) (*http.Request, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", server.ApiKey)
	fullUrl := baseUrl(server.Url) + path + "?" + query.Encode()
	req, err := http.NewRequest(method, fullUrl, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s %s: %w", method, path, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Language", "es-ES,es;q=0.9")
	req.Header.Set("X-Emby-Authorization", fmt.Sprintf("MediaBrowser Device=%q, DeviceName=\"Chrome Windows\", Version=\"10.8.0\", Token=%q", uuid.NewString(), server.ApiKey))
	return req, nil
}

func (b *jellyfinBackend) ListDevices(ctx context.Context, server *database.Server) ([]Device, error) {
	req, err := b.newRequest("GET", server, "/Devices", nil, nil)
	if err != nil {
		return nil, err
	}
	respBody, err := doRequest(ctx, req, ListTimeout, http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices on %s: %w", server.Name, err)
	}
	return decodeList[Device](respBody)
}

func (b *jellyfinBackend) ListSessions(ctx context.Context, server *database.Server) ([]Session, error) {
	req, err := b.newRequest("GET", server, "/Sessions", nil, nil)
	if err != nil {
		return nil, err
	}
	respBody, err := doRequest(ctx, req, ListTimeout, http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions on %s: %w", server.Name, err)
	}
	return decodeList[Session](respBody)
}

func (b *jellyfinBackend) ListUsers(ctx context.Context, server *database.Server) ([]User, error) {
	req, err := b.newRequest("GET", server, "/Users", nil, nil)
	if err != nil {
		return nil, err
	}
	respBody, err := doRequest(ctx, req, ListTimeout, http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("failed to list users on %s: %w", server.Name, err)
	}
	return decodeList[User](respBody)
}

func (b *jellyfinBackend) UserExists(ctx context.Context, server *database.Server, userId string) (bool, error) {
	req, err := b.newRequest("GET", server, "/Users/"+userId, nil, nil)
	if err != nil {
		return true, err
	}
	_, err = doRequest(ctx, req, ListTimeout, http.StatusOK)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return true, fmt.Errorf("failed to check user %s on %s: %w", userId, server.Name, err)
}

func (b *jellyfinBackend) CreateUser(ctx context.Context, server *database.Server, createReq CreateUserRequest) (*CreatedUser, error) {
	// Jellyfin takes the password at creation time, then the policy in a
	// second call.
	createBody, err := json.Marshal(map[string]string{
		"Name":     createReq.Username,
		"Password": createReq.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal create request: %w", err)
	}
	req, err := b.newRequest("POST", server, "/Users/New", nil, createBody)
	if err != nil {
		return nil, err
	}
	respBody, err := doRequest(ctx, req, ListTimeout, http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("failed to create user %s on %s: %w", createReq.Username, server.Name, err)
	}
	var created struct {
		Id string `json:"Id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return nil, fmt.Errorf("failed to decode created user: %w", err)
	}
	if created.Id == "" {
		return nil, fmt.Errorf("server %s returned no user id for %s", server.Name, createReq.Username)
	}

	policyBody, err := json.Marshal(jellyfinUserPolicy(createReq))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy: %w", err)
	}
	policyReq, err := b.newRequest("POST", server, "/Users/"+created.Id+"/Policy", nil, policyBody)
	if err != nil {
		return nil, err
	}
	if _, err := doRequest(ctx, policyReq, ListTimeout, http.StatusNoContent); err != nil {
		return nil, fmt.Errorf("failed to set policy for %s on %s: %w", createReq.Username, server.Name, err)
	}

	return &CreatedUser{Id: created.Id, Name: createReq.Username, Password: createReq.Password}, nil
}

func jellyfinUserPolicy(createReq CreateUserRequest) map[string]any {
	return map[string]any{
		"IsAdministrator":                 false,
		"IsHidden":                        true,
		"EnableCollectionManagement":      false,
		"EnableSubtitleManagement":        false,
		"EnableLyricManagement":           false,
		"IsDisabled":                      false,
		"EnableUserPreferenceAccess":      true,
		"EnableRemoteControlOfOtherUsers": false,
		"EnableSharedDeviceControl":       false,
		"EnableRemoteAccess":              true,
		"EnableLiveTvManagement":          createReq.EnableLiveTv,
		"EnableLiveTvAccess":              createReq.EnableLiveTv,
		"EnableMediaPlayback":             true,
		"EnableAudioPlaybackTranscoding":  true,
		"EnableVideoPlaybackTranscoding":  true,
		"EnablePlaybackRemuxing":          true,
		"ForceRemoteSourceTranscoding":    false,
		"EnableContentDeletion":           false,
		"EnableContentDownloading":        false,
		"EnableSyncTranscoding":           true,
		"EnableMediaConversion":           true,
		"EnableAllDevices":                true,
		"EnableAllChannels":               false,
		"EnableAllFolders":                true,
		"LoginAttemptsBeforeLockout":      -1,
		"MaxActiveSessions":               createReq.StreamLimit,
		"EnablePublicSharing":             true,
		"RemoteClientBitrateLimit":        0,
		"AuthenticationProviderId":        "Jellyfin.Server.Implementations.Users.DefaultAuthenticationProvider",
		"PasswordResetProviderId":         "Jellyfin.Server.Implementations.Users.DefaultPasswordResetProvider",
		"SyncPlayAccess":                  "None",
	}
}

func (b *jellyfinBackend) DeleteUser(ctx context.Context, server *database.Server, userId string) error {
	req, err := b.newRequest("DELETE", server, "/Users/"+userId, nil, nil)
	if err != nil {
		return err
	}
	_, err = doRequest(ctx, req, DeleteTimeout, http.StatusOK, http.StatusNoContent)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete user %s on %s: %w", userId, server.Name, err)
	}
	return nil
}

func (b *jellyfinBackend) DeleteDevice(ctx context.Context, server *database.Server, deviceId string) error {
	query := url.Values{}
	query.Set("Id", deviceId)
	req, err := b.newRequest("DELETE", server, "/Devices", query, nil)
	if err != nil {
		return err
	}
	_, err = doRequest(ctx, req, DeleteTimeout, http.StatusOK, http.StatusNoContent)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete device %s on %s: %w", deviceId, server.Name, err)
	}
	return nil
}

func (b *jellyfinBackend) Status(ctx context.Context, server *database.Server) (*Status, error) {
	req, err := b.newRequest("GET", server, "/System/Info", nil, nil)
	if err != nil {
		return nil, err
	}
	respBody, err := doRequest(ctx, req, ProbeTimeout, http.StatusOK)
	if err != nil {
		return &Status{Online: false}, nil
	}
	var info struct {
		Version    string `json:"Version"`
		ServerName string `json:"ServerName"`
	}
	if err := json.Unmarshal(respBody, &info); err != nil {
		return nil, fmt.Errorf("failed to decode system info: %w", err)
	}
	status := &Status{Online: true, Version: info.Version, ServerName: info.ServerName}
	sessions, err := b.ListSessions(ctx, server)
	if err == nil {
		for _, session := range sessions {
			if session.DeviceId != "" {
				status.ActiveSessions++
			}
		}
	}
	return status, nil
}
