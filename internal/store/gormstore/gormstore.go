package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/presetstore/pkg/entitlement"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintPaymentProviderTxn = "uniq_payment_provider_txn"
	defaultMetadataJSON          = "{}"
	pgUniqueViolationCode        = "23505"
	sqliteConstraintCode         = 19
	errorOperationStore          = "store"
	errorSubjectPayment          = "payment"
	errorSubjectDownload         = "download"
	errorSubjectFavorite         = "favorite"
	errorCodeDelete              = "delete"
	errorCodeDuplicate           = "duplicate"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodePut                 = "put"
)

// Store implements entitlement.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the ledger tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Payment{}, &Download{}, &Favorite{})
}

func (store *Store) InsertPayment(ctx context.Context, record entitlement.PaymentRecord) error {
	var transactionID *string
	if record.ProviderTransactionID != "" {
		value := record.ProviderTransactionID
		transactionID = &value
	}
	row := Payment{
		PaymentID:             record.PaymentID,
		UserID:                record.UserID,
		UserEmail:             record.UserEmail,
		PlanName:              record.PlanName,
		PriceType:             record.PriceType.String(),
		PriceCents:            record.PriceCents,
		Credits:               record.CreditsGranted.Int64(),
		PurchasedAt:           time.UnixMilli(record.PurchasedAtUnixMilli).UTC(),
		Confirmed:             record.Confirmed,
		PaymentMethod:         record.PaymentMethod,
		ProviderTransactionID: transactionID,
		Metadata:              datatypesJSON(record.MetadataJSON),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintPaymentProviderTxn) {
		return wrapStoreError(errorSubjectPayment, errorCodeDuplicate, entitlement.ErrDuplicateTransaction)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListPayments(ctx context.Context, userID string) ([]entitlement.PaymentRecord, error) {
	var rows []Payment
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND confirmed = ?", userID, true).
		Order("purchased_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	return mapPayments(rows)
}

func (store *Store) ListRecentPayments(ctx context.Context, limit int) ([]entitlement.PaymentRecord, error) {
	var rows []Payment
	err := store.db.WithContext(ctx).
		Where("confirmed = ?", true).
		Order("purchased_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	return mapPayments(rows)
}

func (store *Store) InsertDownload(ctx context.Context, record entitlement.DownloadRecord) error {
	row := Download{
		DownloadID:     record.DownloadID,
		UserID:         record.UserID,
		UserEmail:      record.UserEmail,
		Category:       record.Preset.Category(),
		PresetKey:      record.Preset.Key(),
		PresetName:     record.PresetName,
		FileName:       record.FileName,
		CreditsCharged: record.CreditsCharged.Int64(),
		DownloadedAt:   time.UnixMilli(record.DownloadedAtUnixMilli).UTC(),
		DownloadURL:    record.DownloadURL,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectDownload, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListDownloads(ctx context.Context, userID string) ([]entitlement.DownloadRecord, error) {
	var rows []Download
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("downloaded_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectDownload, errorCodeList, err)
	}
	return mapDownloads(rows)
}

func (store *Store) ListRecentDownloads(ctx context.Context, limit int) ([]entitlement.DownloadRecord, error) {
	var rows []Download
	err := store.db.WithContext(ctx).
		Order("downloaded_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectDownload, errorCodeList, err)
	}
	return mapDownloads(rows)
}

// DeleteDownload removes one download row. Deleting a row that is already
// gone is a no-op, which keeps expired-record purging idempotent.
func (store *Store) DeleteDownload(ctx context.Context, userID string, downloadID string) error {
	result := store.db.WithContext(ctx).
		Where("user_id = ? AND download_id = ?", userID, downloadID).
		Delete(&Download{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectDownload, errorCodeDelete, result.Error)
	}
	return nil
}

// PutFavorite inserts a favorite row; repeating the action on the same
// user/preset pair is a no-op.
func (store *Store) PutFavorite(ctx context.Context, record entitlement.FavoriteRecord) error {
	row := Favorite{
		UserID:      record.UserID,
		Category:    record.Preset.Category(),
		PresetKey:   record.Preset.Key(),
		UserEmail:   record.UserEmail,
		PresetName:  record.PresetName,
		FavoritedAt: time.UnixMilli(record.FavoritedAtUnixMilli).UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectFavorite, errorCodePut, err)
	}
	return nil
}

func (store *Store) DeleteFavorite(ctx context.Context, userID string, preset entitlement.PresetRef) error {
	result := store.db.WithContext(ctx).
		Where("user_id = ? AND category = ? AND preset_key = ?", userID, preset.Category(), preset.Key()).
		Delete(&Favorite{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectFavorite, errorCodeDelete, result.Error)
	}
	return nil
}

func (store *Store) ListFavorites(ctx context.Context, userID string) ([]entitlement.FavoriteRecord, error) {
	var rows []Favorite
	err := store.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("favorited_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectFavorite, errorCodeList, err)
	}
	records := make([]entitlement.FavoriteRecord, 0, len(rows))
	for _, row := range rows {
		preset, presetErr := entitlement.NewPresetRef(row.Category, row.PresetKey)
		if presetErr != nil {
			return nil, wrapStoreError(errorSubjectFavorite, errorCodeInvalid, presetErr)
		}
		records = append(records, entitlement.FavoriteRecord{
			UserID:               row.UserID,
			UserEmail:            row.UserEmail,
			Preset:               preset,
			PresetName:           row.PresetName,
			FavoritedAtUnixMilli: row.FavoritedAt.UnixMilli(),
		})
	}
	return records, nil
}

func mapPayments(rows []Payment) ([]entitlement.PaymentRecord, error) {
	records := make([]entitlement.PaymentRecord, 0, len(rows))
	for _, row := range rows {
		priceType, err := entitlement.ParsePriceType(row.PriceType)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
		}
		credits, err := entitlement.NewCredits(row.Credits)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
		}
		var transactionID string
		if row.ProviderTransactionID != nil {
			transactionID = *row.ProviderTransactionID
		}
		records = append(records, entitlement.PaymentRecord{
			PaymentID:             row.PaymentID,
			UserID:                row.UserID,
			UserEmail:             row.UserEmail,
			PlanName:              row.PlanName,
			PriceType:             priceType,
			PriceCents:            row.PriceCents,
			CreditsGranted:        credits,
			PurchasedAtUnixMilli:  row.PurchasedAt.UnixMilli(),
			Confirmed:             row.Confirmed,
			PaymentMethod:         row.PaymentMethod,
			ProviderTransactionID: transactionID,
			MetadataJSON:          string(row.Metadata),
		})
	}
	return records, nil
}

func mapDownloads(rows []Download) ([]entitlement.DownloadRecord, error) {
	records := make([]entitlement.DownloadRecord, 0, len(rows))
	for _, row := range rows {
		preset, err := entitlement.NewPresetRef(row.Category, row.PresetKey)
		if err != nil {
			return nil, wrapStoreError(errorSubjectDownload, errorCodeInvalid, err)
		}
		charged, err := entitlement.NewCredits(row.CreditsCharged)
		if err != nil {
			return nil, wrapStoreError(errorSubjectDownload, errorCodeInvalid, err)
		}
		records = append(records, entitlement.DownloadRecord{
			DownloadID:            row.DownloadID,
			UserID:                row.UserID,
			UserEmail:             row.UserEmail,
			Preset:                preset,
			PresetName:            row.PresetName,
			FileName:              row.FileName,
			CreditsCharged:        charged,
			DownloadedAtUnixMilli: row.DownloadedAt.UnixMilli(),
			DownloadURL:           row.DownloadURL,
		})
	}
	return records, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return entitlement.WrapError(errorOperationStore, subject, code, err)
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintName
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
