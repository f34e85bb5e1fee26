package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/streampanel/streampanel/internal/database"
	"github.com/streampanel/streampanel/internal/remote"
)

// deviceLimits maps plan names to the number of devices an account may keep
// registered, per service. Plans missing from the table default to 1.
var deviceLimits = map[string]map[string]int{
	database.ServiceEmby: {
		"1_screen":      1,
		"live_tv":       1,
		"demo":          1,
		"2_screens":     2,
		"2_screens_tv":  2,
		"bulk":          3,
		"3_screens":     3,
		"3_screens_tv":  3,
	},
	database.ServiceJellyfin: {
		"1_screen":      1,
		"live_tv":       1,
		"demo":          1,
		"2_screens":     2,
		"2_screens_tv":  2,
		"3_screens":     3,
		"3_screens_tv":  3,
		"bulk":          5,
	},
}

// DeviceLimitForPlan returns how many devices an account on the given plan
// may keep on the given service type.
func DeviceLimitForPlan(service, plan string) int {
	if limit, ok := deviceLimits[service][plan]; ok {
		return limit
	}
	return 1
}

// UserEviction records the devices evicted from one over-limit account.
type UserEviction struct {
	Username     string
	Plan         string
	Limit        int
	TotalDevices int
	Removed      []RemovedDevice
}

// ServerLimits is the per-server outcome of a limit enforcement pass.
type ServerLimits struct {
	ServerName     string
	Service        string
	UsersChecked   int
	DevicesRemoved int
	Users          []UserEviction
	Err            error
}

// LimitsReport aggregates a limit enforcement pass across all servers.
type LimitsReport struct {
	UsersChecked   int
	DevicesRemoved int
	Servers        []ServerLimits
}

// EnforceDeviceLimits trims every over-limit account on every active server
// down to its plan's device allowance. Idle devices go first: devices with
// no recorded activity, then the longest-idle, and devices with a live
// session only as a last resort. Admin users and users the panel has no
// account for are never touched.
func (e *Engine) EnforceDeviceLimits(ctx context.Context) (*LimitsReport, error) {
	servers, err := e.db.AllActiveServers(ctx)
	if err != nil {
		e.auditError("enforce_device_limits", err)
		return nil, fmt.Errorf("failed to query active servers: %w", err)
	}

	report := &LimitsReport{}
	var mu sync.Mutex
	var group errgroup.Group
	for _, server := range servers {
		server := server
		group.Go(func() error {
			limits := e.enforceServerLimits(ctx, server)
			mu.Lock()
			defer mu.Unlock()
			report.UsersChecked += limits.UsersChecked
			report.DevicesRemoved += limits.DevicesRemoved
			report.Servers = append(report.Servers, limits)
			return nil
		})
	}
	_ = group.Wait()

	e.incr("streampanel.limits.evicted", int64(report.DevicesRemoved))
	if e.auditLog != nil {
		e.auditLog.DeviceLimitsEnforced(report.UsersChecked, report.DevicesRemoved)
	}
	if report.DevicesRemoved > 0 {
		e.notify(ctx, formatLimitsReport(report))
	}
	e.log.Infof("device limit enforcement complete, checked %d users, evicted %d devices", report.UsersChecked, report.DevicesRemoved)
	return report, nil
}

func (e *Engine) enforceServerLimits(ctx context.Context, server *database.Server) ServerLimits {
	limits := ServerLimits{ServerName: server.Name, Service: server.Service}
	backend, ok := e.backendFor(server)
	if !ok {
		limits.Err = fmt.Errorf("no backend for service %s", server.Service)
		return limits
	}

	users, err := backend.ListUsers(ctx, server)
	if err != nil {
		limits.Err = fmt.Errorf("failed to list users: %w", err)
		e.log.Errorf("limit enforcement on %s: %v", server.Name, limits.Err)
		return limits
	}
	accounts, err := e.db.ActiveAccountsForServer(ctx, server.ID, server.Service)
	if err != nil {
		limits.Err = fmt.Errorf("failed to query active accounts: %w", err)
		e.log.Errorf("limit enforcement on %s: %v", server.Name, limits.Err)
		return limits
	}
	if len(accounts) == 0 {
		return limits
	}
	devices, err := backend.ListDevices(ctx, server)
	if err != nil {
		limits.Err = fmt.Errorf("failed to list devices: %w", err)
		e.log.Errorf("limit enforcement on %s: %v", server.Name, limits.Err)
		return limits
	}
	sessions, err := backend.ListSessions(ctx, server)
	if err != nil {
		limits.Err = fmt.Errorf("failed to list sessions: %w", err)
		e.log.Errorf("limit enforcement on %s: %v", server.Name, limits.Err)
		return limits
	}
	sessionDeviceIds := make(map[string]bool)
	for _, session := range sessions {
		if session.DeviceId != "" {
			sessionDeviceIds[session.DeviceId] = true
		}
	}

	for _, user := range users {
		account, found := lo.Find(accounts, func(a *database.Account) bool {
			return a.ServiceUserId == user.Id
		})
		if !found || user.Policy.IsAdministrator {
			continue
		}
		limits.UsersChecked++

		limit := DeviceLimitForPlan(server.Service, account.Plan)
		// Devices keep pointing at their last user even after a logout, so
		// LastUserId is the reliable ownership signal, not UserId.
		userDevices := lo.Filter(devices, func(d remote.Device, _ int) bool {
			return d.LastUserId == user.Id
		})
		if len(userDevices) <= limit {
			continue
		}
		e.log.Warnf("user %s on %s exceeds limit: %d devices, plan %s allows %d", user.Name, server.Name, len(userDevices), account.Plan, limit)

		toEvict := evictionOrder(userDevices, sessionDeviceIds)[:len(userDevices)-limit]
		eviction := UserEviction{Username: user.Name, Plan: account.Plan, Limit: limit, TotalDevices: len(userDevices)}
		for _, device := range toEvict {
			if err := backend.DeleteDevice(ctx, server, device.Id); err != nil {
				e.log.Warnf("failed to evict device %s from user %s on %s: %v", device.Name, user.Name, server.Name, err)
				continue
			}
			limits.DevicesRemoved++
			eviction.Removed = append(eviction.Removed, RemovedDevice{
				Id:      device.Id,
				Name:    device.Name,
				AppName: device.AppName,
				Reason:  "over device limit",
			})
			e.log.Infof("evicted device %s (%s) from user %s on %s", device.Name, device.AppName, user.Name, server.Name)
		}
		if len(eviction.Removed) > 0 {
			limits.Users = append(limits.Users, eviction)
		}
	}
	return limits
}

// evictionOrder sorts a user's devices from most to least evictable: devices
// with no recorded activity first, then by oldest activity date, with
// devices holding a live session pushed to the very end. Ties break on
// device id so repeated passes pick the same victims.
func evictionOrder(devices []remote.Device, sessionDeviceIds map[string]bool) []remote.Device {
	ordered := make([]remote.Device, len(devices))
	copy(ordered, devices)
	sort.SliceStable(ordered, func(i, j int) bool {
		di, dj := ordered[i], ordered[j]
		if sessionDeviceIds[di.Id] != sessionDeviceIds[dj.Id] {
			return !sessionDeviceIds[di.Id]
		}
		ti, okI := parseActivity(di.LastActivity)
		tj, okJ := parseActivity(dj.LastActivity)
		if okI != okJ {
			return !okI
		}
		if okI && !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return di.Id < dj.Id
	})
	return ordered
}

// parseActivity parses the DateLastActivity strings the servers emit, which
// drift between RFC3339 variants across versions.
func parseActivity(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	parsed, err := dateparse.ParseAny(value)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}
