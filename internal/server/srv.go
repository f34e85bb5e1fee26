// Package server exposes the panel's admin HTTP API: health, per-server
// stats, account provisioning, and manual triggers for every reconciliation
// job. This API is for operators and their tooling, not subscribers; it
// binds to an internal address.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rodaine/table"
	httptrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/net/http"

	"github.com/streampanel/streampanel/internal/database"
	"github.com/streampanel/streampanel/internal/provision"
	"github.com/streampanel/streampanel/internal/reconcile"
)

type Server struct {
	db          *database.DB
	engine      *reconcile.Engine
	provisioner *provision.Service
	statsd      *statsd.Client

	isProductionEnvironment bool
	isTestEnvironment       bool
	releaseVersion          string
}

type Option func(*Server)

func WithStatsd(statsd *statsd.Client) Option {
	return func(s *Server) {
		s.statsd = statsd
	}
}

func WithReleaseVersion(releaseVersion string) Option {
	return func(s *Server) {
		s.releaseVersion = releaseVersion
	}
}

func WithProvisioner(provisioner *provision.Service) Option {
	return func(s *Server) {
		s.provisioner = provisioner
	}
}

func IsProductionEnvironment(v bool) Option {
	return func(s *Server) {
		s.isProductionEnvironment = v
	}
}

func IsTestEnvironment(v bool) Option {
	return func(s *Server) {
		s.isTestEnvironment = v
	}
}

func NewServer(db *database.DB, engine *reconcile.Engine, options ...Option) *Server {
	srv := Server{db: db, engine: engine}
	for _, option := range options {
		option(&srv)
	}
	if srv.isProductionEnvironment && srv.isTestEnvironment {
		panic(fmt.Errorf("cannot create a server that is both a prod environment and a test environment: %#v", srv))
	}
	return &srv
}

func (s *Server) Run(ctx context.Context, addr string) error {
	mux := httptrace.NewServeMux()

	if s.isProductionEnvironment {
		defer configureObservability(mux, s.releaseVersion)()
	}
	middlewares := mergeMiddlewares(withPanicGuard(), withLogging(s.statsd, os.Stdout))
	s.registerHandlers(mux, middlewares)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	fmt.Printf("Listening on %s\n", addr)
	if err := httpServer.ListenAndServe(); err != nil {
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http.ListenAndServe: %w", err)
		}
	}

	return nil
}

func (s *Server) registerHandlers(mux *httptrace.ServeMux, middlewares Middleware) {
	mux.Handle("/healthcheck", middlewares(http.HandlerFunc(s.healthCheckHandler)))
	mux.Handle("/internal/api/v1/stats", middlewares(http.HandlerFunc(s.statsHandler)))
	mux.Handle("/api/v1/create-account", middlewares(http.HandlerFunc(s.createAccountHandler)))
	mux.Handle("/api/v1/renew-account", middlewares(http.HandlerFunc(s.renewAccountHandler)))
	mux.Handle("/api/v1/delete-account", middlewares(http.HandlerFunc(s.deleteAccountHandler)))
	mux.Handle("/api/v1/trigger-reaper", middlewares(http.HandlerFunc(s.triggerReaperHandler)))
	mux.Handle("/api/v1/trigger-orphan-cleanup", middlewares(http.HandlerFunc(s.triggerOrphanCleanupHandler)))
	mux.Handle("/api/v1/trigger-device-limits", middlewares(http.HandlerFunc(s.triggerDeviceLimitsHandler)))
	mux.Handle("/api/v1/trigger-status-report", middlewares(http.HandlerFunc(s.triggerStatusReportHandler)))
	if s.isTestEnvironment {
		mux.Handle("/api/v1/wipe-db-tables", middlewares(http.HandlerFunc(s.wipeDbTablesHandler)))
		mux.Handle("/api/v1/get-num-connections", middlewares(http.HandlerFunc(s.getNumConnectionsHandler)))
	}
}

func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		panic(fmt.Errorf("failed to ping DB: %w", err))
	}
	w.Write([]byte("OK"))
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	servers, err := s.db.AllActiveServers(r.Context())
	checkGormError(err)

	tbl := table.New("Server", "Service", "Users", "Max Users", "Active Accounts", "URL")
	tbl.WithWriter(w)
	for _, server := range servers {
		activeAccounts, err := s.db.CountActiveAccountsForServer(r.Context(), server.ID)
		checkGormError(err)
		tbl.AddRow(server.Name, server.Service, server.CurrentUsers, server.MaxUsers, activeAccounts, server.Url)
	}
	tbl.Print()
}

type createAccountRequest struct {
	UserId       uint   `json:"user_id"`
	Service      string `json:"service"`
	Plan         string `json:"plan"`
	ServerId     uint   `json:"server_id"`
	DurationDays int    `json:"duration_days"`
}

func (s *Server) createAccountHandler(w http.ResponseWriter, r *http.Request) {
	if s.provisioner == nil {
		http.Error(w, "provisioning is not enabled", http.StatusServiceUnavailable)
		return
	}
	var request createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		panic(fmt.Errorf("failed to decode: %w", err))
	}
	if request.DurationDays == 0 {
		request.DurationDays = 30
	}

	var created *provision.CreatedAccount
	var err error
	if request.ServerId != 0 {
		created, err = s.provisioner.CreateAccountOnServer(r.Context(), request.UserId, request.Plan, request.ServerId, request.DurationDays)
	} else {
		created, err = s.provisioner.CreateAccount(r.Context(), request.UserId, request.Service, request.Plan, request.DurationDays)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, provision.ErrServerFull) || errors.Is(err, provision.ErrNoServersAvailable) || errors.Is(err, provision.ErrDemoLimitReached) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	if err := json.NewEncoder(w).Encode(created); err != nil {
		panic(fmt.Errorf("failed to JSON marshall the created account: %w", err))
	}
}

type renewAccountRequest struct {
	Service  string `json:"service"`
	Username string `json:"username"`
	Days     int    `json:"days"`
}

func (s *Server) renewAccountHandler(w http.ResponseWriter, r *http.Request) {
	if s.provisioner == nil {
		http.Error(w, "provisioning is not enabled", http.StatusServiceUnavailable)
		return
	}
	var request renewAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		panic(fmt.Errorf("failed to decode: %w", err))
	}
	renewed, err := s.provisioner.RenewAccount(r.Context(), request.Service, request.Username, request.Days)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, provision.ErrDemoNotRenewable) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	response := map[string]any{
		"username":    renewed.Username,
		"expiry_date": renewed.ExpiryDate.Format(time.RFC3339),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		panic(fmt.Errorf("failed to JSON marshall the renewal: %w", err))
	}
}

func (s *Server) deleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	if s.provisioner == nil {
		http.Error(w, "provisioning is not enabled", http.StatusServiceUnavailable)
		return
	}
	service := getRequiredQueryParam(r, "service")
	username := getRequiredQueryParam(r, "username")
	if err := s.provisioner.DeleteAccount(r.Context(), service, username, "manual"); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) triggerReaperHandler(w http.ResponseWriter, r *http.Request) {
	reaped, err := s.engine.ReapExpiredAccounts(r.Context())
	if err != nil {
		panic(err)
	}
	fmt.Fprintf(w, "Reaped %d expired accounts\n", reaped)
}

func (s *Server) triggerOrphanCleanupHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.CleanOrphanedDevices(r.Context())
	if err != nil {
		panic(err)
	}
	fmt.Fprintf(w, "Deleted %d orphaned devices across %d servers\n", report.TotalDeleted, len(report.Servers))
}

func (s *Server) triggerDeviceLimitsHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.EnforceDeviceLimits(r.Context())
	if err != nil {
		panic(err)
	}
	fmt.Fprintf(w, "Checked %d users, evicted %d devices\n", report.UsersChecked, report.DevicesRemoved)
}

func (s *Server) triggerStatusReportHandler(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.SendStatusReport(r.Context())
	if err != nil {
		panic(err)
	}
	fmt.Fprintf(w, "Status report sent for %d servers\n", len(report.Servers))
}

func (s *Server) wipeDbTablesHandler(w http.ResponseWriter, r *http.Request) {
	if s.isProductionEnvironment {
		panic("refusing to wipe the DB for prod")
	}
	if !s.isTestEnvironment {
		panic("refusing to wipe the DB non-test environment")
	}

	err := s.db.Unsafe_WipeDbTables(r.Context())
	checkGormError(err)

	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) getNumConnectionsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.Stats()
	if err != nil {
		panic(err)
	}

	_, _ = fmt.Fprintf(w, "%#v", stats.OpenConnections)
}
