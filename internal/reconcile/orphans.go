package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/streampanel/streampanel/internal/database"
)

// RemovedDevice describes one device a job deleted, for reports.
type RemovedDevice struct {
	Id      string
	Name    string
	AppName string
	Reason  string
}

// ServerCleanup is the per-server outcome of an orphan pass. Err is set when
// the whole server could not be processed; partial per-device failures only
// lower Deleted.
type ServerCleanup struct {
	ServerName string
	Service    string
	Total      int
	Deleted    int
	Devices    []RemovedDevice
	Err        error
}

// CleanupReport aggregates an orphan pass across all servers.
type CleanupReport struct {
	TotalDeleted int
	Servers      []ServerCleanup
}

// CleanOrphanedDevices removes devices that no longer belong to any active
// account on every active server. The whole pass runs under the global
// cleanup lock so two overlapping passes cannot race each other's deletes.
// Servers are processed concurrently; one unreachable server never stops the
// others.
func (e *Engine) CleanOrphanedDevices(ctx context.Context) (*CleanupReport, error) {
	unlock := e.locks.LockCleanup()
	defer unlock()

	servers, err := e.db.AllActiveServers(ctx)
	if err != nil {
		e.auditError("cleanup_orphaned_devices", err)
		return nil, fmt.Errorf("failed to query active servers: %w", err)
	}

	report := &CleanupReport{}
	var mu sync.Mutex
	var group errgroup.Group
	for _, server := range servers {
		server := server
		group.Go(func() error {
			cleanup := e.cleanServerOrphans(ctx, server)
			mu.Lock()
			defer mu.Unlock()
			report.TotalDeleted += cleanup.Deleted
			report.Servers = append(report.Servers, cleanup)
			// Server failures are isolated, not propagated.
			return nil
		})
	}
	_ = group.Wait()

	e.incr("streampanel.orphans.deleted", int64(report.TotalDeleted))
	if e.auditLog != nil {
		affected := lo.CountBy(report.Servers, func(s ServerCleanup) bool { return s.Deleted > 0 })
		e.auditLog.OrphanDevicesCleaned(report.TotalDeleted, affected)
	}
	if report.TotalDeleted > 0 {
		e.notify(ctx, formatCleanupReport(report))
	}
	e.log.Infof("orphan device cleanup complete, deleted %d devices", report.TotalDeleted)
	return report, nil
}

// cleanServerOrphans classifies and deletes orphans on one server. A device
// is an orphan when its UserId does not belong to an active account, its
// LastUserName does not name one either (devices can shed their UserId after
// the owning account is deleted), and it has no session right now.
func (e *Engine) cleanServerOrphans(ctx context.Context, server *database.Server) ServerCleanup {
	cleanup := ServerCleanup{ServerName: server.Name, Service: server.Service}
	backend, ok := e.backendFor(server)
	if !ok {
		cleanup.Err = fmt.Errorf("no backend for service %s", server.Service)
		return cleanup
	}

	devices, err := backend.ListDevices(ctx, server)
	if err != nil {
		cleanup.Err = fmt.Errorf("failed to list devices: %w", err)
		e.log.Errorf("orphan cleanup on %s: %v", server.Name, cleanup.Err)
		return cleanup
	}
	cleanup.Total = len(devices)

	sessions, err := backend.ListSessions(ctx, server)
	if err != nil {
		cleanup.Err = fmt.Errorf("failed to list sessions: %w", err)
		e.log.Errorf("orphan cleanup on %s: %v", server.Name, cleanup.Err)
		return cleanup
	}
	sessionDeviceIds := make(map[string]bool)
	for _, session := range sessions {
		if session.DeviceId != "" {
			sessionDeviceIds[session.DeviceId] = true
		}
	}

	accounts, err := e.db.ActiveAccountsForServer(ctx, server.ID, server.Service)
	if err != nil {
		cleanup.Err = fmt.Errorf("failed to query active accounts: %w", err)
		e.log.Errorf("orphan cleanup on %s: %v", server.Name, cleanup.Err)
		return cleanup
	}

	users, err := backend.ListUsers(ctx, server)
	if err != nil {
		cleanup.Err = fmt.Errorf("failed to list users: %w", err)
		e.log.Errorf("orphan cleanup on %s: %v", server.Name, cleanup.Err)
		return cleanup
	}

	activeUserIds := make(map[string]bool)
	activeUsernames := make(map[string]bool)
	for _, user := range users {
		for _, account := range accounts {
			if account.ServiceUserId == user.Id {
				activeUserIds[user.Id] = true
				if user.Name != "" {
					activeUsernames[user.Name] = true
				}
				break
			}
			// Fallback match by name: accounts provisioned before the panel
			// started recording service user ids only carry the username.
			if account.Username == user.Name {
				activeUserIds[user.Id] = true
				activeUsernames[user.Name] = true
				break
			}
		}
	}

	var orphans []RemovedDevice
	for _, device := range devices {
		ownedById := device.UserId != "" && activeUserIds[device.UserId]
		ownedByName := device.LastUserName != "" && activeUsernames[device.LastUserName]
		inSession := sessionDeviceIds[device.Id]
		if ownedById || ownedByName || inSession {
			continue
		}
		orphans = append(orphans, RemovedDevice{
			Id:      device.Id,
			Name:    device.Name,
			AppName: device.AppName,
			Reason:  fmt.Sprintf("no active owner (last user %q)", device.LastUserName),
		})
		e.log.Infof("marking device as orphaned on %s: %s (%s, last user %q)", server.Name, device.Name, device.AppName, device.LastUserName)
	}

	// Deletion happens after classification; each DeleteDevice call uses a
	// fresh connection so a long listing phase cannot leave them on a dead
	// client.
	for _, orphan := range orphans {
		if err := backend.DeleteDevice(ctx, server, orphan.Id); err != nil {
			e.log.Warnf("failed to delete orphaned device %s on %s: %v", orphan.Name, server.Name, err)
			continue
		}
		cleanup.Deleted++
		cleanup.Devices = append(cleanup.Devices, orphan)
		e.log.Infof("deleted orphaned device %s (%s) from %s", orphan.Name, orphan.AppName, server.Name)
	}
	return cleanup
}
