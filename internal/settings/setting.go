// Package settings stores small key/value operational settings, most notably
// the hashed dashboard API key.
package settings

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Setting keys.
const (
	KeyDashboardAPIKeyHash = "dashboard_api_key_hash"
)

const apiKeyBytes = 24

// Setting is a single key/value configuration record.
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

// GetSetting returns the value for key, or an empty string when unset.
func GetSetting(db *gorm.DB, key string) (string, error) {
	var setting Setting
	err := db.Where("key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load setting %s: %w", key, err)
	}
	return setting.Value, nil
}

// CreateOrUpdateSetting upserts a key/value pair.
func CreateOrUpdateSetting(db *gorm.DB, key string, value string) error {
	var setting Setting
	err := db.Where("key = ?", key).First(&setting).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return db.Create(&Setting{Key: key, Value: value}).Error
	case err != nil:
		return fmt.Errorf("failed to load setting %s: %w", key, err)
	default:
		setting.Value = value
		return db.Save(&setting).Error
	}
}

// GenerateDashboardAPIKey creates a fresh random API key, stores its bcrypt
// hash and returns the plaintext. The plaintext is shown exactly once; only
// the hash is persisted.
func GenerateDashboardAPIKey(db *gorm.DB) (string, error) {
	raw := make([]byte, apiKeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	key := "sp_" + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}

	if err := CreateOrUpdateSetting(db, KeyDashboardAPIKeyHash, string(hash)); err != nil {
		return "", err
	}
	return key, nil
}

// VerifyDashboardAPIKey reports whether the provided key matches the stored
// hash. Returns false when no key has been configured yet.
func VerifyDashboardAPIKey(db *gorm.DB, providedKey string) (bool, error) {
	hash, err := GetSetting(db, KeyDashboardAPIKeyHash)
	if err != nil {
		return false, err
	}
	if hash == "" || providedKey == "" {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(providedKey)) == nil, nil
}
