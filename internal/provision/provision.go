// Package provision creates, renews, and deletes paid accounts. The ordering
// discipline matches the reconciliation jobs: remote state is mutated first
// and the local record plus the occupancy counter only afterwards, inside
// the per-server lock.
package provision

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/streampanel/streampanel/internal/audit"
	"github.com/streampanel/streampanel/internal/database"
	"github.com/streampanel/streampanel/internal/lockset"
	"github.com/streampanel/streampanel/internal/reconcile"
	"github.com/streampanel/streampanel/internal/remote"
)

var (
	ErrDemoLimitReached   = errors.New("daily demo limit reached")
	ErrServerFull         = errors.New("server is at capacity")
	ErrNoServersAvailable = errors.New("no servers with free capacity")
	ErrDemoNotRenewable   = errors.New("demo accounts cannot be renewed")
)

// demoDuration is how long a demo account lives before the reaper takes it.
const demoDuration = time.Hour

type Service struct {
	db       *database.DB
	locks    *lockset.LockSet
	backends map[string]remote.Backend
	auditLog *audit.Logger
	log      *logrus.Logger
}

func NewService(db *database.DB, locks *lockset.LockSet, backends map[string]remote.Backend, auditLog *audit.Logger, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{db: db, locks: locks, backends: backends, auditLog: auditLog, log: log}
}

// CreatedAccount is what a successful provisioning hands back to the caller,
// credentials included.
type CreatedAccount struct {
	Username   string
	Password   string
	ServerName string
	ServerUrl  string
	Plan       string
	ExpiryDate time.Time
}

// CreateAccount provisions an account on the least occupied active server of
// the given service type.
func (s *Service) CreateAccount(ctx context.Context, userId uint, service, plan string, durationDays int) (*CreatedAccount, error) {
	servers, err := s.db.ActiveServers(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("failed to query active servers: %w", err)
	}
	for _, server := range servers {
		if server.MaxUsers <= 0 || server.CurrentUsers < server.MaxUsers {
			return s.CreateAccountOnServer(ctx, userId, plan, server.ID, durationDays)
		}
	}
	return nil, ErrNoServersAvailable
}

// CreateAccountOnServer provisions an account on one specific server. The
// capacity check happens before any remote call so a full server never
// accumulates half-provisioned remote users.
func (s *Service) CreateAccountOnServer(ctx context.Context, userId uint, plan string, serverID uint, durationDays int) (*CreatedAccount, error) {
	isDemo := plan == database.DemoPlan
	if isDemo {
		canCreate, current, limit, err := s.db.CheckDemoLimit(ctx, userId)
		if err != nil {
			return nil, fmt.Errorf("failed to check demo limit: %w", err)
		}
		if !canCreate {
			return nil, fmt.Errorf("%w (%d/%d today)", ErrDemoLimitReached, current, limit)
		}
	}

	server, err := s.db.ServerById(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to load server %d: %w", serverID, err)
	}
	if !server.IsActive {
		return nil, fmt.Errorf("server %s is not active", server.Name)
	}
	if server.MaxUsers > 0 && server.CurrentUsers >= server.MaxUsers {
		return nil, fmt.Errorf("%w: %s (%d/%d)", ErrServerFull, server.Name, server.CurrentUsers, server.MaxUsers)
	}
	backend, ok := s.backends[server.Service]
	if !ok {
		return nil, fmt.Errorf("no backend for service %s", server.Service)
	}

	username := generateUsername(isDemo)
	password := generatePassword()
	created, err := backend.CreateUser(ctx, server, remote.CreateUserRequest{
		Username:     username,
		Password:     password,
		StreamLimit:  reconcile.DeviceLimitForPlan(server.Service, plan),
		EnableLiveTv: planHasLiveTv(plan),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create remote user: %w", err)
	}

	expiry := time.Now().UTC().Add(time.Duration(durationDays) * 24 * time.Hour)
	if isDemo {
		expiry = time.Now().UTC().Add(demoDuration)
	}
	account := &database.Account{
		UserId:        userId,
		Service:       server.Service,
		Username:      username,
		Password:      password,
		Plan:          plan,
		ServerId:      server.ID,
		ServiceUserId: created.Id,
		ExpiryDate:    expiry,
		IsActive:      true,
		CreatedDate:   time.Now(),
	}

	unlock := s.locks.LockServer(server.ID)
	err = s.db.CreateAccount(ctx, account)
	if err == nil {
		err = s.db.IncrementServerUsers(ctx, server.ID)
	}
	unlock()
	if err != nil {
		// The remote user exists but the panel has no record of it; undo the
		// remote side so nothing leaks.
		if deleteErr := backend.DeleteUser(ctx, server, created.Id); deleteErr != nil {
			s.log.Errorf("failed to roll back remote user %s after local failure: %v", username, deleteErr)
		}
		return nil, fmt.Errorf("failed to record account: %w", err)
	}

	if s.auditLog != nil {
		s.auditLog.AccountCreated(userId, server.Service, plan, server.ID, username)
	}
	s.log.Infof("provisioned %s account %s on %s (plan %s)", server.Service, username, server.Name, plan)
	return &CreatedAccount{
		Username:   username,
		Password:   password,
		ServerName: server.Name,
		ServerUrl:  server.Url,
		Plan:       plan,
		ExpiryDate: expiry,
	}, nil
}

// RenewAccount extends an account by the given number of days, from its
// current expiry when still active or from now when already lapsed.
func (s *Service) RenewAccount(ctx context.Context, service, username string, days int) (*database.Account, error) {
	account, err := s.db.AccountByUsername(ctx, service, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find account %s: %w", username, err)
	}
	if account.Plan == database.DemoPlan {
		return nil, ErrDemoNotRenewable
	}
	if err := s.db.RenewAccount(ctx, account.ID, days, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to renew account %s: %w", username, err)
	}
	renewed, err := s.db.AccountByUsername(ctx, service, username)
	if err != nil {
		return nil, fmt.Errorf("failed to reload account %s: %w", username, err)
	}
	if s.auditLog != nil {
		s.auditLog.AccountRenewed(account.UserId, service, username, days, renewed.ExpiryDate)
	}
	return renewed, nil
}

// DeleteAccount removes an account from server and panel. Unlike the reaper,
// an explicit deletion always clears the local record: the operator asked
// for the account to be gone, and a dangling remote user is swept up by the
// orphan pass later.
func (s *Service) DeleteAccount(ctx context.Context, service, username, reason string) error {
	account, err := s.db.AccountByUsername(ctx, service, username)
	if err != nil {
		return fmt.Errorf("failed to find account %s: %w", username, err)
	}
	server, err := s.db.ServerById(ctx, account.ServerId)
	if err != nil {
		return fmt.Errorf("failed to load server for account %s: %w", username, err)
	}

	if account.IsActive && account.ServiceUserId != "" {
		if backend, ok := s.backends[server.Service]; ok {
			if err := backend.DeleteUser(ctx, server, account.ServiceUserId); err != nil {
				s.log.Warnf("failed to delete %s from %s, removing local record anyway: %v", username, server.Name, err)
			}
		}
	}

	unlock := s.locks.LockServer(server.ID)
	err = s.db.DeleteAccount(ctx, account.ID)
	if err == nil && account.IsActive {
		err = s.db.DecrementServerUsers(ctx, server.ID)
	}
	unlock()
	if err != nil {
		return fmt.Errorf("failed to delete account %s: %w", username, err)
	}

	if s.auditLog != nil {
		s.auditLog.AccountDeleted(account.UserId, service, username, server.ID, reason)
	}
	s.log.Infof("deleted %s account %s from %s (%s)", service, username, server.Name, reason)
	return nil
}

const upperLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randomDigits(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(byte('0' + rand.Intn(10)))
	}
	return b.String()
}

func randomLetters(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(upperLetters[rand.Intn(len(upperLetters))])
	}
	return b.String()
}

// generateUsername builds names like User1234AB, or Demo1234AB for demos.
func generateUsername(isDemo bool) string {
	prefix := "User"
	if isDemo {
		prefix = "Demo"
	}
	return prefix + randomDigits(4) + randomLetters(2)
}

// generatePassword builds passwords like AB123456CD.
func generatePassword() string {
	return randomLetters(2) + randomDigits(6) + randomLetters(2)
}

// planHasLiveTv reports whether a plan includes live TV channels. Demos get
// everything enabled so prospects see the full product.
func planHasLiveTv(plan string) bool {
	return plan == database.DemoPlan || plan == "live_tv" || strings.HasSuffix(plan, "_tv")
}
