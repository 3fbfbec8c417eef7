// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/autobrr/sweeparr/internal/dbinterface"
	"github.com/autobrr/sweeparr/internal/domain"
)

var ErrInstanceNotFound = errors.New("instance not found")

// ServiceType identifies which *arr application an instance is.
type ServiceType string

const (
	ServiceTypeSonarr  ServiceType = "sonarr"
	ServiceTypeRadarr  ServiceType = "radarr"
	ServiceTypeLidarr  ServiceType = "lidarr"
	ServiceTypeReadarr ServiceType = "readarr"
)

func ParseServiceType(raw string) (ServiceType, error) {
	switch ServiceType(strings.ToLower(strings.TrimSpace(raw))) {
	case ServiceTypeSonarr:
		return ServiceTypeSonarr, nil
	case ServiceTypeRadarr:
		return ServiceTypeRadarr, nil
	case ServiceTypeLidarr:
		return ServiceTypeLidarr, nil
	case ServiceTypeReadarr:
		return ServiceTypeReadarr, nil
	default:
		return "", fmt.Errorf("unknown service type %q: must be sonarr, radarr, lidarr or readarr", raw)
	}
}

// Instance is a registered *arr service the queue cleaner operates on.
type Instance struct {
	ID              int         `json:"id"`
	Name            string      `json:"name"`
	ServiceType     ServiceType `json:"serviceType"`
	Host            string      `json:"host"`
	APIKeyEncrypted string      `json:"-"`
	IsActive        bool        `json:"isActive"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

func (i Instance) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		ID          int         `json:"id"`
		Name        string      `json:"name"`
		ServiceType ServiceType `json:"serviceType"`
		Host        string      `json:"host"`
		APIKey      string      `json:"apiKey,omitempty"`
		IsActive    bool        `json:"isActive"`
		CreatedAt   time.Time   `json:"createdAt"`
		UpdatedAt   time.Time   `json:"updatedAt"`
	}{
		ID:          i.ID,
		Name:        i.Name,
		ServiceType: i.ServiceType,
		Host:        i.Host,
		APIKey:      domain.RedactString(i.APIKeyEncrypted),
		IsActive:    i.IsActive,
		CreatedAt:   i.CreatedAt,
		UpdatedAt:   i.UpdatedAt,
	})
}

// InstanceStore manages persistence for Instance records. API keys are
// encrypted at rest with AES-GCM.
type InstanceStore struct {
	db            dbinterface.Querier
	encryptionKey []byte
}

func NewInstanceStore(db dbinterface.Querier, encryptionKey []byte) (*InstanceStore, error) {
	if len(encryptionKey) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}

	return &InstanceStore{
		db:            db,
		encryptionKey: encryptionKey,
	}, nil
}

func (s *InstanceStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *InstanceStore) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	if len(data) < gcm.NonceSize() {
		return "", errors.New("malformed ciphertext")
	}

	nonce, ciphertextBytes := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// validateAndNormalizeHost validates and normalizes an *arr instance host URL.
func validateAndNormalizeHost(rawHost string) (string, error) {
	rawHost = strings.TrimSpace(rawHost)

	if rawHost == "" {
		return "", errors.New("host cannot be empty")
	}

	if !strings.Contains(rawHost, "://") {
		rawHost = "http://" + rawHost
	}

	u, err := url.Parse(rawHost)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q: must be http or https", u.Scheme)
	}

	if u.Host == "" {
		return "", errors.New("URL must include a host")
	}

	return strings.TrimRight(u.String(), "/"), nil
}

func (s *InstanceStore) Create(ctx context.Context, name string, serviceType ServiceType, rawHost, apiKey string) (*Instance, error) {
	normalizedHost, err := validateAndNormalizeHost(rawHost)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(name) == "" {
		return nil, errors.New("name cannot be empty")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("api key cannot be empty")
	}

	encryptedKey, err := s.encrypt(apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt api key: %w", err)
	}

	var id int
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO instances (name, service_type, host, api_key_encrypted)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`, name, string(serviceType), normalizedHost, encryptedKey).Scan(&id)
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, id)
}

func (s *InstanceStore) Get(ctx context.Context, id int) (*Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, service_type, host, api_key_encrypted, is_active, created_at, updated_at
		FROM instances
		WHERE id = ?
	`, id)

	instance, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return instance, nil
}

func (s *InstanceStore) List(ctx context.Context) ([]*Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, service_type, host, api_key_encrypted, is_active, created_at, updated_at
		FROM instances
		ORDER BY name COLLATE NOCASE ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return instances, nil
}

func (s *InstanceStore) SetActiveState(ctx context.Context, id int, active bool) (*Instance, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE instances SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, active, id)
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrInstanceNotFound
	}

	return s.Get(ctx, id)
}

func (s *InstanceStore) Delete(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInstanceNotFound
	}

	return nil
}

// GetDecryptedAPIKey returns the decrypted API key for an instance.
func (s *InstanceStore) GetDecryptedAPIKey(instance *Instance) (string, error) {
	return s.decrypt(instance.APIKeyEncrypted)
}

func scanInstance(scanner interface{ Scan(dest ...any) error }) (*Instance, error) {
	var (
		instance    Instance
		serviceType string
		createdAt   sql.NullTime
		updatedAt   sql.NullTime
	)

	if err := scanner.Scan(
		&instance.ID,
		&instance.Name,
		&serviceType,
		&instance.Host,
		&instance.APIKeyEncrypted,
		&instance.IsActive,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	instance.ServiceType = ServiceType(serviceType)
	if createdAt.Valid {
		instance.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		instance.UpdatedAt = updatedAt.Time
	}

	return &instance, nil
}
