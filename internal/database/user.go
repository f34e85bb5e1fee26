package database

import (
	"context"
	"fmt"
	"time"
)

// User is a reseller operating through the front-end. Role determines
// whether they receive administrator reports.
type User struct {
	ID           uint      `json:"id" gorm:"primarykey"`
	TelegramId   int64     `json:"telegram_id" gorm:"uniqueIndex"`
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	Role         string    `json:"role"` // "SUPER_ADMIN", "ADMIN", "DISTRIBUTOR", ...
	Credits      float64   `json:"credits"`
	IsAuthorized bool      `json:"is_authorized"`
	JoinedDate   time.Time `json:"joined_date"`
}

func (db *DB) CreateUser(ctx context.Context, user *User) error {
	tx := db.WithContext(ctx).Create(user)
	if tx.Error != nil {
		return fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return nil
}

// AdminChatIds returns the Telegram chat ids of every admin-role user, for
// delivering reconciliation reports.
func (db *DB) AdminChatIds(ctx context.Context) ([]int64, error) {
	var users []*User
	tx := db.WithContext(ctx).Where("role IN ?", []string{"SUPER_ADMIN", "ADMIN"}).Find(&users)
	if tx.Error != nil {
		return nil, fmt.Errorf("tx.Error: %w", tx.Error)
	}

	ids := make([]int64, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.TelegramId)
	}
	return ids, nil
}
