package entitlement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Credits is a non-negative count of platform credits.
type Credits int64

// UserID identifies a ledger owner.
type UserID struct {
	value string
}

// EmailAddress is a normalized user email.
type EmailAddress struct {
	value string
}

// PresetRef identifies a downloadable preset by category and key. The pair is
// carried explicitly so that nothing ever has to split a composite id string
// to recover the category.
type PresetRef struct {
	category string
	key      string
}

// MetadataJSON stores arbitrary provider metadata.
type MetadataJSON struct {
	value string
}

// PriceType distinguishes one-time purchases from recurring plans.
type PriceType string

const (
	PriceOneTime   PriceType = "one_time"
	PriceRecurring PriceType = "recurring"
)

// String returns the price type label.
func (priceType PriceType) String() string {
	return string(priceType)
}

// ParsePriceType validates a raw price type label.
func ParsePriceType(raw string) (PriceType, error) {
	switch PriceType(strings.TrimSpace(raw)) {
	case PriceOneTime:
		return PriceOneTime, nil
	case PriceRecurring:
		return PriceRecurring, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPriceType, raw)
	}
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewEmailAddress validates and normalizes an email address.
func NewEmailAddress(raw string) (EmailAddress, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !strings.Contains(trimmed, "@") {
		return EmailAddress{}, fmt.Errorf("%w: %q", ErrInvalidEmailAddress, raw)
	}
	return EmailAddress{value: trimmed}, nil
}

// String returns the normalized address.
func (address EmailAddress) String() string {
	return address.value
}

// NewPresetRef validates a category/key pair.
func NewPresetRef(category string, key string) (PresetRef, error) {
	trimmedCategory := strings.TrimSpace(category)
	trimmedKey := strings.TrimSpace(key)
	if trimmedCategory == "" {
		return PresetRef{}, fmt.Errorf("%w: empty category", ErrInvalidPresetRef)
	}
	if trimmedKey == "" {
		return PresetRef{}, fmt.Errorf("%w: empty key", ErrInvalidPresetRef)
	}
	return PresetRef{category: trimmedCategory, key: trimmedKey}, nil
}

// Category returns the preset category.
func (ref PresetRef) Category() string {
	return ref.category
}

// Key returns the preset key within its category.
func (ref PresetRef) Key() string {
	return ref.key
}

// Equal reports whether two refs address the same preset.
func (ref PresetRef) Equal(other PresetRef) bool {
	return ref.category == other.category && ref.key == other.key
}

// NewCredits validates a credit amount (zero is allowed; free redownloads
// charge zero credits).
func NewCredits(raw int64) (Credits, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidCredits)
	}
	return Credits(raw), nil
}

// Int64 returns the raw credit count.
func (credits Credits) Int64() int64 {
	return int64(credits)
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// PaymentRecord is a single immutable line in the payment ledger. Only
// confirmed records count toward the credit balance.
type PaymentRecord struct {
	PaymentID             string
	UserID                string
	UserEmail             string
	PlanName              string
	PriceType             PriceType
	PriceCents            int64
	CreditsGranted        Credits
	PurchasedAtUnixMilli  int64
	Confirmed             bool
	PaymentMethod         string
	ProviderTransactionID string
	MetadataJSON          string
}

// DownloadRecord is a single line in the consumption ledger. CreditsCharged is
// zero when the download rode an active free-redownload window.
type DownloadRecord struct {
	DownloadID            string
	UserID                string
	UserEmail             string
	Preset                PresetRef
	PresetName            string
	FileName              string
	CreditsCharged        Credits
	DownloadedAtUnixMilli int64
	DownloadURL           string
}

// FavoriteRecord marks a preset as a user favorite. At most one record exists
// per user/preset pair.
type FavoriteRecord struct {
	UserID               string
	UserEmail            string
	Preset               PresetRef
	PresetName           string
	FavoritedAtUnixMilli int64
}

// Balance is the derived credit view for a user.
type Balance struct {
	TotalCredits     Credits
	UsedCredits      Credits
	AvailableCredits Credits
}

// UserProfile is a derived aggregate rebuilt on every read; it is never
// persisted.
type UserProfile struct {
	UserID      string
	Email       string
	DisplayName string
	Balance     Balance
	Payments    []PaymentRecord
}

// CategoryGroup is one bucket of download records sharing a preset category.
type CategoryGroup struct {
	Category string
	Records  []DownloadRecord
}

// Store is the persistence contract used by Service. Payment and download
// ledgers are append-only from the service's perspective; the only delete
// paths are expired-download purging and unfavoriting, both idempotent.
type Store interface {
	InsertPayment(ctx context.Context, record PaymentRecord) error
	ListPayments(ctx context.Context, userID string) ([]PaymentRecord, error)
	ListRecentPayments(ctx context.Context, limit int) ([]PaymentRecord, error)

	InsertDownload(ctx context.Context, record DownloadRecord) error
	ListDownloads(ctx context.Context, userID string) ([]DownloadRecord, error)
	ListRecentDownloads(ctx context.Context, limit int) ([]DownloadRecord, error)
	DeleteDownload(ctx context.Context, userID string, downloadID string) error

	PutFavorite(ctx context.Context, record FavoriteRecord) error
	DeleteFavorite(ctx context.Context, userID string, preset PresetRef) error
	ListFavorites(ctx context.Context, userID string) ([]FavoriteRecord, error)
}
