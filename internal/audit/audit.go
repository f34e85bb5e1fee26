// Package audit records lifecycle mutations to a rotating log file, separate
// from the operational log. The audit trail answers "who deleted this
// account and when", so events carry identities and counts as structured
// fields rather than free-form text.
package audit

import (
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger writes audit events. The zero value is not usable; construct with
// New or NewWithOutput.
type Logger struct {
	log *logrus.Logger
}

var (
	auditLogger *Logger
	auditOnce   sync.Once
)

// Get returns the process-wide audit logger writing to filename. The first
// call wins; later calls ignore their argument.
func Get(filename string) *Logger {
	auditOnce.Do(func() {
		lumberjackLogger := &lumberjack.Logger{
			Filename:   filename,
			MaxSize:    10, // MB
			MaxBackups: 10,
			MaxAge:     90, // days
		}
		auditLogger = NewWithOutput(lumberjackLogger)
	})
	return auditLogger
}

// NewWithOutput builds an audit logger writing to the given sink. Used
// directly in tests.
func NewWithOutput(out io.Writer) *Logger {
	logFormatter := new(logrus.TextFormatter)
	logFormatter.TimestampFormat = time.RFC3339
	logFormatter.FullTimestamp = true

	log := logrus.New()
	log.SetFormatter(logFormatter)
	log.SetLevel(logrus.InfoLevel)
	log.SetOutput(out)
	return &Logger{log: log}
}

func (a *Logger) AccountCreated(userId uint, service, plan string, serverId uint, username string) {
	a.log.WithFields(logrus.Fields{
		"event":     "ACCOUNT_CREATED",
		"user_id":   userId,
		"service":   service,
		"plan":      plan,
		"server_id": serverId,
		"username":  username,
	}).Info("account created")
}

func (a *Logger) AccountDeleted(userId uint, service, username string, serverId uint, reason string) {
	a.log.WithFields(logrus.Fields{
		"event":     "ACCOUNT_DELETED",
		"user_id":   userId,
		"service":   service,
		"username":  username,
		"server_id": serverId,
		"reason":    reason,
	}).Info("account deleted")
}

func (a *Logger) AccountRenewed(userId uint, service, username string, days int, newExpiry time.Time) {
	a.log.WithFields(logrus.Fields{
		"event":      "ACCOUNT_RENEWED",
		"user_id":    userId,
		"service":    service,
		"username":   username,
		"days":       days,
		"new_expiry": newExpiry.Format(time.RFC3339),
	}).Info("account renewed")
}

func (a *Logger) ExpiredAccountsReaped(removed int, details []string) {
	a.log.WithFields(logrus.Fields{
		"event":   "EXPIRED_CLEANUP",
		"removed": removed,
		"details": details,
	}).Info("expired accounts reaped")
}

func (a *Logger) OrphanDevicesCleaned(removed int, serversAffected int) {
	a.log.WithFields(logrus.Fields{
		"event":            "DEVICE_CLEANUP",
		"removed":          removed,
		"servers_affected": serversAffected,
	}).Info("orphaned devices cleaned")
}

func (a *Logger) DeviceLimitsEnforced(usersChecked int, devicesRemoved int) {
	a.log.WithFields(logrus.Fields{
		"event":           "DEVICE_LIMIT_ENFORCEMENT",
		"users_checked":   usersChecked,
		"devices_removed": devicesRemoved,
	}).Info("device limits enforced")
}

func (a *Logger) Error(context string, err error) {
	a.log.WithFields(logrus.Fields{
		"event":   "SYSTEM_ERROR",
		"context": context,
	}).Error(err)
}
