package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrAccountNotFound is returned when no account matches the lookup.
var ErrAccountNotFound = errors.New("account not found")

// Account is one citizen account. It is managed by the national identity
// platform; this service only reads it for display and contact purposes.
type Account struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Phone     string    `json:"phone" gorm:"index"`
	Email     string    `json:"email" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Account) TableName() string {
	return "accounts"
}

// FullName returns the display name for the account.
func (a *Account) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// Directory is a read-only lookup over citizen accounts. It satisfies the
// payment module's NameDirectory for CSV exports.
type Directory struct {
	db *gorm.DB
}

// NewDirectory creates a new account directory.
func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// Get returns one account by id.
func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	var a Account
	err := d.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

// DisplayName resolves a user id to a display name.
func (d *Directory) DisplayName(ctx context.Context, userID uuid.UUID) (string, error) {
	a, err := d.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return a.FullName(), nil
}
