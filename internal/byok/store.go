// Package byok stores bring-your-own-key provider credentials, one active key
// per (user, provider). Keys are encrypted at rest and decrypted only at the
// point of calling the provider gateway; they are never returned to clients.
package byok

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("byok: no active credential")

type Credential struct {
	ID           string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID       uint64    `gorm:"not null;index:uniq_byok_user_provider,unique,priority:1" json:"-"`
	Provider     string    `gorm:"type:varchar(32);not null;index:uniq_byok_user_provider,unique,priority:2" json:"provider"`
	EncryptedKey string    `gorm:"type:text;not null" json:"-"`
	IsActive     bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Credential) TableName() string { return "llm_byok" }

type Store struct {
	db     *gorm.DB
	cipher *Cipher
}

func NewStore(db *gorm.DB, cipher *Cipher) *Store {
	return &Store{db: db, cipher: cipher}
}

// Upsert encrypts and stores the key, replacing any previous credential for
// the same (user, provider).
func (s *Store) Upsert(ctx context.Context, userID uint64, provider, plainKey string) (*Credential, error) {
	encrypted, err := s.cipher.Encrypt(plainKey)
	if err != nil {
		return nil, err
	}

	var cred Credential
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		First(&cred).Error
	switch {
	case err == nil:
		cred.EncryptedKey = encrypted
		cred.IsActive = true
		if err := s.db.WithContext(ctx).Save(&cred).Error; err != nil {
			return nil, err
		}
		return &cred, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		cred = Credential{
			ID:           uuid.NewString(),
			UserID:       userID,
			Provider:     provider,
			EncryptedKey: encrypted,
			IsActive:     true,
		}
		if err := s.db.WithContext(ctx).Create(&cred).Error; err != nil {
			return nil, err
		}
		return &cred, nil
	default:
		return nil, err
	}
}

// ResolveKey returns the decrypted key for the user's active credential.
func (s *Store) ResolveKey(ctx context.Context, userID uint64, provider string) (string, error) {
	var cred Credential
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND is_active = ?", userID, provider, true).
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return s.cipher.Decrypt(cred.EncryptedKey)
}

// List returns the user's credentials without key material.
func (s *Store) List(ctx context.Context, userID uint64) ([]Credential, error) {
	var creds []Credential
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("provider ASC").
		Find(&creds).Error; err != nil {
		return nil, err
	}
	return creds, nil
}

func (s *Store) Delete(ctx context.Context, userID uint64, provider string) error {
	res := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ?", userID, provider).
		Delete(&Credential{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
