package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/streampanel/streampanel/internal/database"
)

// ServerStatus is one server's health snapshot for the periodic report.
type ServerStatus struct {
	ServerName     string
	Service        string
	Url            string
	Online         bool
	Users          int
	MaxUsers       int
	ActiveSessions int
}

// UsersPercentage returns occupancy as a percentage, 0 when capacity is
// unbounded.
func (s *ServerStatus) UsersPercentage() float64 {
	if s.MaxUsers <= 0 {
		return 0
	}
	return float64(s.Users) / float64(s.MaxUsers) * 100
}

// StatusReport is the full periodic health report.
type StatusReport struct {
	Servers []ServerStatus
}

// SendStatusReport probes every active server, heals the occupancy counters
// against the real account counts, and delivers the resulting report through
// the notifier. The report text is also returned for callers serving it over
// HTTP.
func (e *Engine) SendStatusReport(ctx context.Context) (*StatusReport, error) {
	servers, err := e.db.AllActiveServers(ctx)
	if err != nil {
		e.auditError("send_status_report", err)
		return nil, fmt.Errorf("failed to query active servers: %w", err)
	}

	report := &StatusReport{}
	var mu sync.Mutex
	var group errgroup.Group
	for _, server := range servers {
		server := server
		group.Go(func() error {
			status := e.serverStatus(ctx, server)
			mu.Lock()
			defer mu.Unlock()
			report.Servers = append(report.Servers, status)
			return nil
		})
	}
	_ = group.Wait()

	// Fan-out finishes in arbitrary order; keep the report stable.
	sort.Slice(report.Servers, func(i, j int) bool {
		if report.Servers[i].Service != report.Servers[j].Service {
			return report.Servers[i].Service < report.Servers[j].Service
		}
		return report.Servers[i].ServerName < report.Servers[j].ServerName
	})

	e.notify(ctx, formatStatusReport(report))
	e.log.Infof("status report sent for %d servers", len(report.Servers))
	return report, nil
}

func (e *Engine) serverStatus(ctx context.Context, server *database.Server) ServerStatus {
	status := ServerStatus{
		ServerName: server.Name,
		Service:    server.Service,
		Url:        server.Url,
		MaxUsers:   server.MaxUsers,
	}

	// The counter drifts if a past run died between remote and local
	// mutations; recounting from the account rows makes the report honest.
	if err := e.db.RecountServerUsers(ctx, server.ID); err != nil {
		e.log.Warnf("failed to recount users for %s: %v", server.Name, err)
	}
	refreshed, err := e.db.ServerById(ctx, server.ID)
	if err == nil {
		status.Users = refreshed.CurrentUsers
	} else {
		status.Users = server.CurrentUsers
	}

	backend, ok := e.backendFor(server)
	if !ok {
		return status
	}
	remoteStatus, err := backend.Status(ctx, server)
	if err != nil {
		e.log.Warnf("failed to probe %s: %v", server.Name, err)
		return status
	}
	status.Online = remoteStatus.Online
	status.ActiveSessions = remoteStatus.ActiveSessions
	return status
}
