package database

import (
	"context"
	"fmt"
	"time"
)

// Account is a provisioned user on a remote media server, owned by a
// reseller. While IsActive is true the remote counterpart is believed to
// exist; the record is deleted outright once remote absence is confirmed.
type Account struct {
	ID       uint   `json:"id" gorm:"primarykey"`
	UserId   uint   `json:"user_id"`
	Service  string `json:"service"` // "EMBY" or "JELLYFIN"
	Username string `json:"username"`
	Password string `json:"password"`
	Plan     string `json:"plan"` // "1_screen", "2_screens", "demo", ...
	ServerId uint   `json:"server_id"`
	// ServiceUserId is the user's id on the remote server. Required to
	// attempt remote deletion.
	ServiceUserId string    `json:"service_user_id"`
	ExpiryDate    time.Time `json:"expiry_date"`
	IsActive      bool      `json:"is_active"`
	CreatedDate   time.Time `json:"created_date"`
}

const DemoPlan = "demo"

// DailyDemoLimit is the number of demo accounts a reseller may create per
// local day.
const DailyDemoLimit = 3

func (db *DB) CreateAccount(ctx context.Context, account *Account) error {
	tx := db.WithContext(ctx).Create(account)
	if tx.Error != nil {
		return fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return nil
}

// ExpiredAccounts returns every active account whose expiry has passed.
func (db *DB) ExpiredAccounts(ctx context.Context, now time.Time) ([]*Account, error) {
	var accounts []*Account
	tx := db.WithContext(ctx).Where("is_active = ? AND expiry_date < ?", true, now).Find(&accounts)
	if tx.Error != nil {
		return nil, fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return accounts, nil
}

func (db *DB) ActiveAccountsForServer(ctx context.Context, serverID uint, service string) ([]*Account, error) {
	var accounts []*Account
	tx := db.WithContext(ctx).Where("server_id = ? AND service = ? AND is_active = ?", serverID, service, true).Find(&accounts)
	if tx.Error != nil {
		return nil, fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return accounts, nil
}

func (db *DB) AccountByUsername(ctx context.Context, service, username string) (*Account, error) {
	var account Account
	tx := db.WithContext(ctx).Where("service = ? AND username = ?", service, username).First(&account)
	if tx.Error != nil {
		return nil, fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return &account, nil
}

func (db *DB) DeleteAccount(ctx context.Context, accountID uint) error {
	tx := db.WithContext(ctx).Delete(&Account{}, accountID)
	if tx.Error != nil {
		return fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return nil
}

// RenewAccount extends an account's expiry by the given number of days,
// counting from the current expiry when it is still in the future or from
// now when the account has already lapsed, and reactivates the account.
func (db *DB) RenewAccount(ctx context.Context, accountID uint, days int, now time.Time) error {
	var account Account
	tx := db.WithContext(ctx).First(&account, accountID)
	if tx.Error != nil {
		return fmt.Errorf("tx.Error: %w", tx.Error)
	}
	base := account.ExpiryDate
	if base.Before(now) {
		base = now
	}
	tx = db.WithContext(ctx).Model(&Account{}).Where("id = ?", accountID).
		Updates(map[string]any{"expiry_date": base.AddDate(0, 0, days), "is_active": true})
	if tx.Error != nil {
		return fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return nil
}

func (db *DB) CountActiveAccountsForServer(ctx context.Context, serverID uint) (int64, error) {
	var cnt int64
	tx := db.WithContext(ctx).Model(&Account{}).Where("server_id = ? AND is_active = ?", serverID, true).Count(&cnt)
	if tx.Error != nil {
		return 0, fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return cnt, nil
}

// CheckDemoLimit reports whether the given reseller may create another demo
// account today, along with how many active demos they created since local
// midnight and the daily cap. On a storage error it fails closed: blocking a
// demo creation is the safe default, a false permit is not.
func (db *DB) CheckDemoLimit(ctx context.Context, userID uint) (canCreate bool, currentCount int, limit int, err error) {
	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var cnt int64
	tx := db.WithContext(ctx).Model(&Account{}).
		Where("user_id = ? AND plan = ? AND is_active = ? AND created_date >= ?", userID, DemoPlan, true, dayStart).
		Count(&cnt)
	if tx.Error != nil {
		return false, 0, DailyDemoLimit, fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return cnt < DailyDemoLimit, int(cnt), DailyDemoLimit, nil
}
