package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// schema creates the tables used by the repositories.  Statements are
// idempotent so Migrate can run on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		email         VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		role          ENUM('OWNER','ADMIN','CUSTOMER') NOT NULL DEFAULT 'CUSTOMER',
		is_active     TINYINT(1) NOT NULL DEFAULT 1,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_users_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id    BIGINT UNSIGNED NOT NULL,
		token_hash CHAR(64) NOT NULL,
		expires_at DATETIME NOT NULL,
		revoked_at DATETIME NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_refresh_token_hash (token_hash),
		KEY idx_refresh_user (user_id),
		KEY idx_refresh_expires (expires_at),
		CONSTRAINT fk_refresh_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS restaurants (
		id                CHAR(36) NOT NULL PRIMARY KEY,
		owner_id          BIGINT UNSIGNED NOT NULL DEFAULT 0,
		name              VARCHAR(255) NOT NULL,
		address           TEXT NOT NULL,
		phone             VARCHAR(20) NOT NULL DEFAULT '',
		current_wait_time INT NOT NULL DEFAULT 0,
		created_at        DATETIME(6) NOT NULL,
		updated_at        DATETIME(6) NOT NULL,
		KEY idx_restaurants_owner (owner_id),
		CONSTRAINT chk_restaurants_wait CHECK (current_wait_time >= 0)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS waitlist_entries (
		seq                 BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		id                  CHAR(36) NOT NULL,
		restaurant_id       CHAR(36) NOT NULL,
		customer_name       VARCHAR(255) NOT NULL,
		party_size          INT NOT NULL,
		phone_number        VARCHAR(20) NOT NULL,
		notes               TEXT NULL,
		status              ENUM('waiting','seated','cancelled','no_show') NOT NULL DEFAULT 'waiting',
		estimated_wait_time INT NULL,
		consent_given       TINYINT(1) NOT NULL DEFAULT 0,
		created_at          DATETIME(6) NOT NULL,
		updated_at          DATETIME(6) NOT NULL,
		UNIQUE KEY uq_waitlist_id (id),
		KEY idx_waitlist_queue (restaurant_id, status, created_at, seq),
		KEY idx_waitlist_phone (restaurant_id, phone_number, status),
		CONSTRAINT fk_waitlist_restaurant FOREIGN KEY (restaurant_id) REFERENCES restaurants(id) ON DELETE CASCADE,
		CONSTRAINT chk_waitlist_party CHECK (party_size > 0)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates any missing table.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	log.Printf("database: schema up to date (%d tables)", len(schema))
	return nil
}
