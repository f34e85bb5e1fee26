package database

import (
	"context"
	"fmt"
)

const (
	ServiceEmby     = "EMBY"
	ServiceJellyfin = "JELLYFIN"
)

// Server is a managed remote media server instance. CurrentUsers is a
// denormalized counter of active accounts on the server; it is only mutated
// inside the per-server lock and is a cache, not ground truth. A crash
// mid-update can leave it stale, which RecountServerUsers heals.
type Server struct {
	ID            uint   `json:"id" gorm:"primarykey"`
	Name          string `json:"name"`
	Service       string `json:"service"` // "EMBY" or "JELLYFIN"
	Url           string `json:"url"`
	ApiKey        string `json:"api_key"`
	AdminUsername string `json:"admin_username"`
	AdminId       string `json:"admin_id"`
	MaxDevices    int    `json:"max_devices"`
	MaxUsers      int    `json:"max_users"`
	CurrentUsers  int    `json:"current_users"`
	IsActive      bool   `json:"is_active"`
}

func (db *DB) CreateServer(ctx context.Context, server *Server) error {
	tx := db.WithContext(ctx).Create(server)
	if tx.Error != nil {
		return fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return nil
}

func (db *DB) ServerById(ctx context.Context, serverID uint) (*Server, error) {
	var server Server
	tx := db.WithContext(ctx).First(&server, serverID)
	if tx.Error != nil {
		return nil, fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return &server, nil
}

func (db *DB) ActiveServers(ctx context.Context, service string) ([]*Server, error) {
	var servers []*Server
	tx := db.WithContext(ctx).Where("service = ? AND is_active = ?", service, true).Find(&servers)
	if tx.Error != nil {
		return nil, fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return servers, nil
}

func (db *DB) AllActiveServers(ctx context.Context) ([]*Server, error) {
	var servers []*Server
	tx := db.WithContext(ctx).Where("is_active = ?", true).Find(&servers)
	if tx.Error != nil {
		return nil, fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return servers, nil
}

// IncrementServerUsers bumps the capacity counter. Callers must hold the
// server's lock.
func (db *DB) IncrementServerUsers(ctx context.Context, serverID uint) error {
	tx := db.WithContext(ctx).Exec("UPDATE servers SET current_users = current_users + 1 WHERE id = ?", serverID)
	if tx.Error != nil {
		return fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return nil
}

// DecrementServerUsers lowers the capacity counter, flooring at zero.
// Callers must hold the server's lock.
func (db *DB) DecrementServerUsers(ctx context.Context, serverID uint) error {
	tx := db.WithContext(ctx).Exec("UPDATE servers SET current_users = CASE WHEN current_users > 0 THEN current_users - 1 ELSE 0 END WHERE id = ?", serverID)
	if tx.Error != nil {
		return fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return nil
}

// RecountServerUsers overwrites the counter with the real count of active
// accounts referencing the server. Callers must hold the server's lock.
func (db *DB) RecountServerUsers(ctx context.Context, serverID uint) error {
	tx := db.WithContext(ctx).Exec(
		"UPDATE servers SET current_users = (SELECT COUNT(*) FROM accounts WHERE accounts.server_id = servers.id AND accounts.is_active = ?) WHERE id = ?",
		true, serverID)
	if tx.Error != nil {
		return fmt.Errorf("tx.Error: %w", tx.Error)
	}

	return nil
}

func (db *DB) CountActiveServers(ctx context.Context) (int64, error) {
	row := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM servers WHERE is_active = ?", true).Row()
	return extractInt64FromRow(row)
}
