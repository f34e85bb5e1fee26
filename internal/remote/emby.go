package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/streampanel/streampanel/internal/database"
)

// embyBackend speaks Emby's flavor of the API: every path lives under /emby,
// auth rides as both an api_key query param and an X-Emby-Token header, and
// the server refuses requests that don't look like a real browser client.
type embyBackend struct{}

func NewEmbyBackend() Backend {
	return &embyBackend{}
}

func (b *embyBackend) Service() string {
	return database.ServiceEmby
}

func (b *embyBackend) newRequest(method string, server *database.Server, path string, query url.Values, body []byte) (*http.Request, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api_key", server.ApiKey)
	fullUrl := baseUrl(server.Url) + "/emby" + path + "?" + query.Encode()
	var reader *bytes.Buffer
	if body != nil {
		reader = bytes.NewBuffer(body)
	} else {
		reader = bytes.NewBuffer(nil)
	}
	req, err := http.NewRequest(method, fullUrl, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s %s: %w", method, path, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Emby-Client", "Emby Web")
	req.Header.Set("X-Emby-Device-Name", "Chrome Windows")
	req.Header.Set("X-Emby-Device-Id", uuid.NewString())
	req.Header.Set("X-Emby-Client-Version", "4.8.9.0")
	req.Header.Set("X-Emby-Token", server.ApiKey)
	req.Header.Set("X-Emby-Language", "es-419")
	return req, nil
}

func (b *embyBackend) ListDevices(ctx context.Context, server *database.Server) ([]Device, error) {
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

func (b *embyBackend) ListSessions(ctx context.Context, server *database.Server) ([]Session, error) {
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

func (b *embyBackend) ListUsers(ctx context.Context, server *database.Server) ([]User, error) {
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

func (b *embyBackend) UserExists(ctx context.Context, server *database.Server, userId string) (bool, error) {
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
	// Unknown failure: assume the user still exists so nobody treats an
	// unreachable server as a confirmed deletion.
	return true, fmt.Errorf("failed to check user %s on %s: %w", userId, server.Name, err)
}

func (b *embyBackend) CreateUser(ctx context.Context, server *database.Server, createReq CreateUserRequest) (*CreatedUser, error) {
	// Emby creates accounts by copying the admin template, then takes the
	// policy and password in separate calls.
	form := url.Values{}
	form.Set("Name", createReq.Username)
	form.Set("CopyFromUserId", server.AdminId)
	form.Set("UserCopyOptions", "UserPolicy,UserConfiguration")
	req, err := b.newRequest("POST", server, "/Users/New", nil, []byte(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
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

	policy := embyUserPolicy(createReq)
	policyBody, err := json.Marshal(policy)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy: %w", err)
	}
	policyQuery := url.Values{}
	policyQuery.Set("reqformat", "json")
	policyReq, err := b.newRequest("POST", server, "/Users/"+created.Id+"/Policy", policyQuery, policyBody)
	if err != nil {
		return nil, err
	}
	policyReq.Header.Set("Content-Type", "text/plain")
	if _, err := doRequest(ctx, policyReq, ListTimeout, http.StatusNoContent); err != nil {
		return nil, fmt.Errorf("failed to set policy for %s on %s: %w", createReq.Username, server.Name, err)
	}

	passwordForm := url.Values{}
	passwordForm.Set("NewPw", createReq.Password)
	passwordReq, err := b.newRequest("POST", server, "/Users/"+created.Id+"/Password", nil, []byte(passwordForm.Encode()))
	if err != nil {
		return nil, err
	}
	passwordReq.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	if _, err := doRequest(ctx, passwordReq, ListTimeout, http.StatusNoContent); err != nil {
		return nil, fmt.Errorf("failed to set password for %s on %s: %w", createReq.Username, server.Name, err)
	}

	return &CreatedUser{Id: created.Id, Name: createReq.Username, Password: createReq.Password}, nil
}

// embyUserPolicy builds the policy document applied to freshly created
// accounts. Mirrors what the Emby web UI sends when an admin edits a user.
func embyUserPolicy(createReq CreateUserRequest) map[string]any {
	return map[string]any{
		"IsAdministrator":                  false,
		"IsHidden":                         false,
		"IsHiddenRemotely":                 true,
		"IsHiddenFromUnusedDevices":        true,
		"IsDisabled":                       false,
		"AllowTagOrRating":                 false,
		"EnableUserPreferenceAccess":       true,
		"EnableRemoteControlOfOtherUsers":  false,
		"EnableSharedDeviceControl":        false,
		"EnableRemoteAccess":               true,
		"EnableLiveTvManagement":           createReq.EnableLiveTv,
		"EnableLiveTvAccess":               createReq.EnableLiveTv,
		"EnableMediaPlayback":              true,
		"EnableAudioPlaybackTranscoding":   true,
		"EnableVideoPlaybackTranscoding":   true,
		"EnablePlaybackRemuxing":           true,
		"EnableContentDeletion":            false,
		"RestrictedFeatures":               []string{"notifications"},
		"EnableContentDownloading":         false,
		"EnableSubtitleDownloading":        false,
		"EnableSubtitleManagement":         false,
		"EnableSyncTranscoding":            false,
		"EnableMediaConversion":            false,
		"EnableAllChannels":                true,
		"EnableAllFolders":                 true,
		"EnablePublicSharing":              false,
		"RemoteClientBitrateLimit":         0,
		"AuthenticationProviderId":         "Emby.Server.Implementations.Library.DefaultAuthenticationProvider",
		"SimultaneousStreamLimit":          createReq.StreamLimit,
		"EnableAllDevices":                 true,
		"AllowCameraUpload":                false,
		"AllowSharingPersonalItems":        false,
		"EnableTranscodingQuality":         false,
	}
}

func (b *embyBackend) DeleteUser(ctx context.Context, server *database.Server, userId string) error {
	req, err := b.newRequest("DELETE", server, "/Users/"+userId, nil, nil)
	if err != nil {
		return err
	}
	_, err = doRequest(ctx, req, DeleteTimeout, http.StatusOK, http.StatusNoContent)
	if err != nil {
		if isNotFound(err) {
			// Already gone, which is the state we wanted.
			return nil
		}
		return fmt.Errorf("failed to delete user %s on %s: %w", userId, server.Name, err)
	}
	return nil
}

func (b *embyBackend) DeleteDevice(ctx context.Context, server *database.Server, deviceId string) error {
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

func (b *embyBackend) Status(ctx context.Context, server *database.Server) (*Status, error) {
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
			// Sessions without a device are server-internal bookkeeping.
			if strings.TrimSpace(session.DeviceId) != "" {
				status.ActiveSessions++
			}
		}
	}
	return status, nil
}
