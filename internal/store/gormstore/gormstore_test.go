package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/presetstore/pkg/entitlement"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestInsertPaymentRejectsDuplicateProviderTransaction(test *testing.T) {
	store := openTestStore(test)
	record := paymentRecord(test, "user-1", "txn-1", 100)

	if err := store.InsertPayment(context.Background(), record); err != nil {
		test.Fatalf("insert payment: %v", err)
	}
	err := store.InsertPayment(context.Background(), paymentRecord(test, "user-1", "txn-1", 100))
	if !errors.Is(err, entitlement.ErrDuplicateTransaction) {
		test.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
}

func TestInsertPaymentAllowsMissingProviderTransaction(test *testing.T) {
	store := openTestStore(test)
	if err := store.InsertPayment(context.Background(), paymentRecord(test, "user-2", "", 50)); err != nil {
		test.Fatalf("insert payment: %v", err)
	}
	if err := store.InsertPayment(context.Background(), paymentRecord(test, "user-2", "", 25)); err != nil {
		test.Fatalf("second bank-transfer style insert must pass: %v", err)
	}
}

func TestListPaymentsNewestFirstConfirmedOnly(test *testing.T) {
	store := openTestStore(test)
	older := paymentRecord(test, "user-3", "txn-old", 10)
	older.PurchasedAtUnixMilli = time.Now().Add(-time.Hour).UnixMilli()
	newer := paymentRecord(test, "user-3", "txn-new", 20)
	newer.PurchasedAtUnixMilli = time.Now().UnixMilli()
	unconfirmed := paymentRecord(test, "user-3", "txn-pending", 30)
	unconfirmed.Confirmed = false

	for _, record := range []entitlement.PaymentRecord{older, newer, unconfirmed} {
		if err := store.InsertPayment(context.Background(), record); err != nil {
			test.Fatalf("insert payment: %v", err)
		}
	}

	records, err := store.ListPayments(context.Background(), "user-3")
	if err != nil {
		test.Fatalf("list payments: %v", err)
	}
	if len(records) != 2 {
		test.Fatalf("expected 2 confirmed records, got %d", len(records))
	}
	if records[0].ProviderTransactionID != "txn-new" {
		test.Fatalf("expected newest first, got %q", records[0].ProviderTransactionID)
	}
}

func TestDeleteDownloadIsIdempotent(test *testing.T) {
	store := openTestStore(test)
	record := downloadRecord(test, "user-4", "premium", "glow", 20)
	record.DownloadID = "11111111-2222-3333-4444-555555555555"
	if err := store.InsertDownload(context.Background(), record); err != nil {
		test.Fatalf("insert download: %v", err)
	}

	if err := store.DeleteDownload(context.Background(), "user-4", record.DownloadID); err != nil {
		test.Fatalf("delete download: %v", err)
	}
	if err := store.DeleteDownload(context.Background(), "user-4", record.DownloadID); err != nil {
		test.Fatalf("repeat delete must be a no-op: %v", err)
	}
	records, err := store.ListDownloads(context.Background(), "user-4")
	if err != nil {
		test.Fatalf("list downloads: %v", err)
	}
	if len(records) != 0 {
		test.Fatalf("expected empty history, got %d records", len(records))
	}
}

func TestPutFavoriteKeepsSingleRowPerPair(test *testing.T) {
	store := openTestStore(test)
	record := entitlement.FavoriteRecord{
		UserID:               "user-5",
		UserEmail:            "user-5@example.com",
		Preset:               mustPresetRef(test, "premium", "glow"),
		PresetName:           "Glow",
		FavoritedAtUnixMilli: time.Now().UnixMilli(),
	}
	if err := store.PutFavorite(context.Background(), record); err != nil {
		test.Fatalf("put favorite: %v", err)
	}
	if err := store.PutFavorite(context.Background(), record); err != nil {
		test.Fatalf("repeat put must be a no-op: %v", err)
	}

	favorites, err := store.ListFavorites(context.Background(), "user-5")
	if err != nil {
		test.Fatalf("list favorites: %v", err)
	}
	if len(favorites) != 1 {
		test.Fatalf("expected a single favorite, got %d", len(favorites))
	}

	if err := store.DeleteFavorite(context.Background(), "user-5", record.Preset); err != nil {
		test.Fatalf("delete favorite: %v", err)
	}
	if err := store.DeleteFavorite(context.Background(), "user-5", record.Preset); err != nil {
		test.Fatalf("repeat delete must be a no-op: %v", err)
	}
}

func openTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(test.TempDir()+"/presetstore.db"), &gorm.Config{})
	if err != nil {
		test.Fatalf("sqlite open: %v", err)
	}
	if err := Migrate(db); err != nil {
		test.Fatalf("migrate: %v", err)
	}
	return New(db)
}

func mustPresetRef(test *testing.T, category string, key string) entitlement.PresetRef {
	test.Helper()
	ref, err := entitlement.NewPresetRef(category, key)
	if err != nil {
		test.Fatalf("preset ref: %v", err)
	}
	return ref
}

func paymentRecord(test *testing.T, userID string, transactionID string, credits int64) entitlement.PaymentRecord {
	test.Helper()
	return entitlement.PaymentRecord{
		UserID:                userID,
		UserEmail:             userID + "@example.com",
		PlanName:              "Producer",
		PriceType:             entitlement.PriceOneTime,
		PriceCents:            1999,
		CreditsGranted:        entitlement.Credits(credits),
		PurchasedAtUnixMilli:  time.Now().UnixMilli(),
		Confirmed:             true,
		PaymentMethod:         "test",
		ProviderTransactionID: transactionID,
		MetadataJSON:          "{}",
	}
}

func downloadRecord(test *testing.T, userID string, category string, key string, charge int64) entitlement.DownloadRecord {
	test.Helper()
	return entitlement.DownloadRecord{
		UserID:                userID,
		UserEmail:             userID + "@example.com",
		Preset:                mustPresetRef(test, category, key),
		PresetName:            key,
		FileName:              key + ".fxp",
		CreditsCharged:        entitlement.Credits(charge),
		DownloadedAtUnixMilli: time.Now().UnixMilli(),
		DownloadURL:           "/" + category + "/" + key + "/" + key + ".fxp",
	}
}
