package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Payment mirrors the PaymentRecord table. The ledger is append-only: rows
// are never updated or deleted.
type Payment struct {
	PaymentID             string         `gorm:"type:uuid;primaryKey"`
	UserID                string         `gorm:"not null;index:idx_payments_user_purchased,priority:1"`
	UserEmail             string         `gorm:"not null"`
	PlanName              string         `gorm:"not null"`
	PriceType             string         `gorm:"not null"`
	PriceCents            int64          `gorm:"not null"`
	Credits               int64          `gorm:"not null"`
	PurchasedAt           time.Time      `gorm:"not null;index:idx_payments_user_purchased,priority:2"`
	Confirmed             bool           `gorm:"not null"`
	PaymentMethod         string         `gorm:"not null"`
	ProviderTransactionID *string        `gorm:"index:uniq_payment_provider_txn,unique"`
	Metadata              datatypes.JSON `gorm:"not null"`
}

func (Payment) TableName() string { return "PaymentRecord" }

func (payment *Payment) BeforeCreate(tx *gorm.DB) error {
	if payment.PaymentID == "" {
		payment.PaymentID = uuid.NewString()
	}
	return nil
}

// Download mirrors the UserDownloadDB table. Category and preset key are
// separate columns so nothing has to split composite id strings.
type Download struct {
	DownloadID     string    `gorm:"type:uuid;primaryKey"`
	UserID         string    `gorm:"not null;index:idx_downloads_user_downloaded,priority:1"`
	UserEmail      string    `gorm:"not null"`
	Category       string    `gorm:"not null"`
	PresetKey      string    `gorm:"not null"`
	PresetName     string    `gorm:"not null"`
	FileName       string    `gorm:"not null"`
	CreditsCharged int64     `gorm:"not null"`
	DownloadedAt   time.Time `gorm:"not null;index:idx_downloads_user_downloaded,priority:2"`
	DownloadURL    string    `gorm:"not null"`
}

func (Download) TableName() string { return "UserDownloadDB" }

func (download *Download) BeforeCreate(tx *gorm.DB) error {
	if download.DownloadID == "" {
		download.DownloadID = uuid.NewString()
	}
	return nil
}

// Favorite mirrors the UserFavoriteDB table. The composite primary key keeps
// at most one row per user/preset pair.
type Favorite struct {
	UserID      string    `gorm:"primaryKey"`
	Category    string    `gorm:"primaryKey"`
	PresetKey   string    `gorm:"primaryKey"`
	UserEmail   string    `gorm:"not null"`
	PresetName  string    `gorm:"not null"`
	FavoritedAt time.Time `gorm:"not null"`
}

func (Favorite) TableName() string { return "UserFavoriteDB" }
