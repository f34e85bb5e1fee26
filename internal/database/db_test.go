package database

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testDB *DB

const testDBDSN = "file::memory:?_journal_mode=WAL&cache=shared"

func TestMain(m *testing.M) {
	db, err := OpenSQLite(testDBDSN, &gorm.Config{})
	if err != nil {
		panic(fmt.Errorf("failed to connect to the DB: %w", err))
	}
	underlyingDb, err := db.DB.DB()
	if err != nil {
		panic(fmt.Errorf("failed to access underlying DB: %w", err))
	}
	underlyingDb.SetMaxOpenConns(1)
	db.Exec("PRAGMA journal_mode = WAL")
	if err := db.AddDatabaseTables(); err != nil {
		panic(fmt.Errorf("failed to add database tables: %w", err))
	}
	if err := db.CreateIndices(); err != nil {
		panic(fmt.Errorf("failed to create indices: %w", err))
	}

	testDB = db

	os.Exit(m.Run())
}

func wipeTables(t *testing.T) {
	t.Helper()
	for _, table := range []string{"accounts", "servers", "users"} {
		require.NoError(t, testDB.Exec("DELETE FROM "+table).Error)
	}
}

func TestExpiredAccountsScan(t *testing.T) {
	wipeTables(t)
	ctx := context.Background()
	now := time.Now()

	expired := &Account{UserId: 1, Service: "EMBY", Username: "old", ServerId: 1, ServiceUserId: "u1", ExpiryDate: now.Add(-time.Hour), IsActive: true, CreatedDate: now.Add(-48 * time.Hour)}
	current := &Account{UserId: 1, Service: "EMBY", Username: "new", ServerId: 1, ServiceUserId: "u2", ExpiryDate: now.Add(time.Hour), IsActive: true, CreatedDate: now}
	inactive := &Account{UserId: 1, Service: "EMBY", Username: "gone", ServerId: 1, ServiceUserId: "u3", ExpiryDate: now.Add(-time.Hour), IsActive: false, CreatedDate: now}
	for _, a := range []*Account{expired, current, inactive} {
		require.NoError(t, testDB.CreateAccount(ctx, a))
	}

	accounts, err := testDB.ExpiredAccounts(ctx, now)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, "old", accounts[0].Username)
}

func TestRenewAccountExtendsFromExpiryOrNow(t *testing.T) {
	wipeTables(t)
	ctx := context.Background()
	now := time.Now()

	future := &Account{UserId: 1, Service: "EMBY", Username: "future", ExpiryDate: now.Add(24 * time.Hour), IsActive: true}
	lapsed := &Account{UserId: 1, Service: "EMBY", Username: "lapsed", ExpiryDate: now.Add(-24 * time.Hour), IsActive: false}
	require.NoError(t, testDB.CreateAccount(ctx, future))
	require.NoError(t, testDB.CreateAccount(ctx, lapsed))

	require.NoError(t, testDB.RenewAccount(ctx, future.ID, 30, now))
	renewed, err := testDB.AccountByUsername(ctx, "EMBY", "future")
	require.NoError(t, err)
	require.WithinDuration(t, now.Add(24*time.Hour).AddDate(0, 0, 30), renewed.ExpiryDate, time.Second)
	require.True(t, renewed.IsActive)

	require.NoError(t, testDB.RenewAccount(ctx, lapsed.ID, 30, now))
	renewed, err = testDB.AccountByUsername(ctx, "EMBY", "lapsed")
	require.NoError(t, err)
	require.WithinDuration(t, now.AddDate(0, 0, 30), renewed.ExpiryDate, time.Second)
	require.True(t, renewed.IsActive)
}

func TestServerCounterFloorsAtZero(t *testing.T) {
	wipeTables(t)
	ctx := context.Background()

	server := &Server{Name: "s1", Service: "EMBY", Url: "http://example.com", MaxUsers: 10, CurrentUsers: 1, IsActive: true}
	require.NoError(t, testDB.CreateServer(ctx, server))

	require.NoError(t, testDB.DecrementServerUsers(ctx, server.ID))
	require.NoError(t, testDB.DecrementServerUsers(ctx, server.ID))

	reloaded, err := testDB.ServerById(ctx, server.ID)
	require.NoError(t, err)
	require.Equal(t, 0, reloaded.CurrentUsers)

	require.NoError(t, testDB.IncrementServerUsers(ctx, server.ID))
	reloaded, err = testDB.ServerById(ctx, server.ID)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.CurrentUsers)
}

func TestRecountServerUsersHealsDrift(t *testing.T) {
	wipeTables(t)
	ctx := context.Background()
	now := time.Now()

	server := &Server{Name: "s1", Service: "EMBY", Url: "http://example.com", MaxUsers: 10, CurrentUsers: 99, IsActive: true}
	require.NoError(t, testDB.CreateServer(ctx, server))
	for i := 0; i < 3; i++ {
		require.NoError(t, testDB.CreateAccount(ctx, &Account{UserId: 1, Service: "EMBY", Username: fmt.Sprintf("u%d", i), ServerId: server.ID, ExpiryDate: now.Add(time.Hour), IsActive: true}))
	}
	require.NoError(t, testDB.CreateAccount(ctx, &Account{UserId: 1, Service: "EMBY", Username: "inactive", ServerId: server.ID, ExpiryDate: now.Add(time.Hour), IsActive: false}))

	require.NoError(t, testDB.RecountServerUsers(ctx, server.ID))
	reloaded, err := testDB.ServerById(ctx, server.ID)
	require.NoError(t, err)
	require.Equal(t, 3, reloaded.CurrentUsers)
}

func TestCheckDemoLimit(t *testing.T) {
	wipeTables(t)
	ctx := context.Background()
	now := time.Now()

	user := &User{TelegramId: 1000, Username: "reseller", Role: "DISTRIBUTOR"}
	require.NoError(t, testDB.CreateUser(ctx, user))

	mkDemo := func(created time.Time, active bool) {
		require.NoError(t, testDB.CreateAccount(ctx, &Account{
			UserId: user.ID, Service: "EMBY", Username: fmt.Sprintf("demo-%d", created.UnixNano()),
			Plan: DemoPlan, ExpiryDate: now.Add(24 * time.Hour), IsActive: active, CreatedDate: created,
		}))
	}

	// Two demos today, one from yesterday: still allowed.
	mkDemo(now, true)
	mkDemo(now.Add(-time.Minute), true)
	mkDemo(now.Add(-26*time.Hour), true)

	canCreate, count, limit, err := testDB.CheckDemoLimit(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, canCreate)
	require.Equal(t, 2, count)
	require.Equal(t, 3, limit)

	// Third demo today hits the cap.
	mkDemo(now.Add(-2*time.Minute), true)
	canCreate, count, limit, err = testDB.CheckDemoLimit(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, canCreate)
	require.Equal(t, 3, count)
	require.Equal(t, 3, limit)

	// Inactive demos don't count.
	mkDemo(now.Add(-3*time.Minute), false)
	_, count, _, err = testDB.CheckDemoLimit(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestAdminChatIds(t *testing.T) {
	wipeTables(t)
	ctx := context.Background()

	require.NoError(t, testDB.CreateUser(ctx, &User{TelegramId: 1, Role: "SUPER_ADMIN"}))
	require.NoError(t, testDB.CreateUser(ctx, &User{TelegramId: 2, Role: "ADMIN"}))
	require.NoError(t, testDB.CreateUser(ctx, &User{TelegramId: 3, Role: "DISTRIBUTOR"}))

	ids, err := testDB.AdminChatIds(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{1, 2}, ids)
}
