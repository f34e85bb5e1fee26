package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/streampanel/streampanel/internal/database"
)

// ReapExpiredAccounts deletes every active account whose expiry date has
// passed, remote side first. An account whose remote deletion fails is left
// untouched locally so the next pass retries it; the local row is the only
// record that the remote user still needs deleting. Returns the number of
// accounts fully removed.
func (e *Engine) ReapExpiredAccounts(ctx context.Context) (int, error) {
	expired, err := e.db.ExpiredAccounts(ctx, time.Now())
	if err != nil {
		e.auditError("reap_expired_accounts", err)
		return 0, fmt.Errorf("failed to query expired accounts: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}
	e.log.Infof("found %d expired accounts", len(expired))

	reaped := 0
	servers := make(map[uint]*database.Server)
	for _, account := range expired {
		server, ok := servers[account.ServerId]
		if !ok {
			server, err = e.db.ServerById(ctx, account.ServerId)
			if err != nil {
				e.log.Errorf("no server %d for expired account %s: %v", account.ServerId, account.Username, err)
				continue
			}
			servers[account.ServerId] = server
		}
		backend, ok := e.backendFor(server)
		if !ok {
			e.log.Errorf("no backend for service %s (account %s)", account.Service, account.Username)
			continue
		}
		if account.ServiceUserId == "" {
			e.log.Errorf("expired account %s has no service user id, skipping", account.Username)
			continue
		}

		exists, err := backend.UserExists(ctx, server, account.ServiceUserId)
		if err != nil {
			// Conservative: unknown remote state means we retry next pass.
			e.log.Errorf("failed to check remote state for %s: %v", account.Username, err)
			continue
		}
		if exists {
			if err := backend.DeleteUser(ctx, server, account.ServiceUserId); err != nil {
				// Nothing local changes, so the account stays queued for the
				// next pass and no zombie survives on the server.
				e.log.Errorf("failed to delete %s from %s, will retry next pass: %v", account.Username, server.Name, err)
				continue
			}
		}

		unlock := e.locks.LockServer(server.ID)
		err = e.db.DeleteAccount(ctx, account.ID)
		if err == nil {
			err = e.db.DecrementServerUsers(ctx, server.ID)
		}
		unlock()
		if err != nil {
			e.log.Errorf("failed to remove local record for %s: %v", account.Username, err)
			continue
		}
		e.log.Infof("reaped expired account %s from %s", account.Username, server.Name)
		if e.auditLog != nil {
			e.auditLog.AccountDeleted(account.UserId, account.Service, account.Username, server.ID, "expired")
		}
		reaped++
	}

	e.incr("streampanel.reaper.deleted", int64(reaped))
	if e.auditLog != nil {
		e.auditLog.ExpiredAccountsReaped(reaped, nil)
	}
	e.log.Infof("expired account reaping complete, removed %d of %d", reaped, len(expired))
	return reaped, nil
}
