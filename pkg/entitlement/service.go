package entitlement

import (
	"context"
	"fmt"
	"sort"
)

// Service contains the credit and entitlement accounting logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service. The clock returns epoch milliseconds.
func NewService(store Store, nowUnixMilli func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if nowUnixMilli == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: nowUnixMilli}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// PaymentInput describes one confirmed purchase to append to the payment ledger.
type PaymentInput struct {
	UserID                UserID
	Email                 EmailAddress
	PlanName              string
	PriceType             PriceType
	PriceCents            int64
	CreditsGranted        Credits
	PaymentMethod         string
	ProviderTransactionID string
	Metadata              MetadataJSON
}

// DownloadInput describes one download request against the consumption ledger.
type DownloadInput struct {
	UserID      UserID
	Email       EmailAddress
	Preset      PresetRef
	PresetName  string
	FileName    string
	Cost        Credits
	DownloadURL string
}

// Balance derives {total, used, available} for a user. The two ledgers are
// fetched concurrently and joined before the fold; the fold itself is
// deterministic and side-effect free.
func (service *Service) Balance(ctx context.Context, userID UserID) (Balance, error) {
	payments, downloads, err := service.fetchLedgers(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return computeBalance(payments, downloads, service.nowFn()), nil
}

// computeBalance folds the two ledgers into a balance. Total sums credits
// granted by confirmed payments. A download's charge counts toward used only
// once its free-redownload window has lapsed; until then the charge is
// suspended. Available never goes below zero.
func computeBalance(payments []PaymentRecord, downloads []DownloadRecord, nowUnixMilli int64) Balance {
	var total int64
	for _, payment := range payments {
		if !payment.Confirmed {
			continue
		}
		if payment.CreditsGranted > 0 {
			total += payment.CreditsGranted.Int64()
		}
	}
	var used int64
	for _, download := range downloads {
		if !IsExpired(download.DownloadedAtUnixMilli, nowUnixMilli) {
			continue
		}
		if download.CreditsCharged > 0 {
			used += download.CreditsCharged.Int64()
		}
	}
	available := total - used
	if available < 0 {
		available = 0
	}
	return Balance{
		TotalCredits:     Credits(total),
		UsedCredits:      Credits(used),
		AvailableCredits: Credits(available),
	}
}

// Profile rebuilds the derived user aggregate from the ledgers.
func (service *Service) Profile(ctx context.Context, userID UserID, email string, displayName string) (UserProfile, error) {
	payments, downloads, err := service.fetchLedgers(ctx, userID)
	if err != nil {
		return UserProfile{}, err
	}
	return UserProfile{
		UserID:      userID.String(),
		Email:       email,
		DisplayName: displayName,
		Balance:     computeBalance(payments, downloads, service.nowFn()),
		Payments:    payments,
	}, nil
}

// PaymentHistory returns the user's confirmed payments, newest first.
func (service *Service) PaymentHistory(ctx context.Context, userID UserID) ([]PaymentRecord, error) {
	return service.store.ListPayments(ctx, userID.String())
}

// RecentPayments returns up to limit confirmed payments across all users,
// newest first. A non-positive limit falls back to the admin default.
func (service *Service) RecentPayments(ctx context.Context, limit int) ([]PaymentRecord, error) {
	return service.store.ListRecentPayments(ctx, clampAdminLimit(limit))
}

// DownloadHistory purges expired records first, then returns the surviving
// downloads along with the purge count. Purge failures are best-effort: the
// non-expired subset is still returned.
func (service *Service) DownloadHistory(ctx context.Context, userID UserID) ([]DownloadRecord, int, error) {
	removed, purgeErr := service.PurgeExpired(ctx, userID)
	records, err := service.store.ListDownloads(ctx, userID.String())
	if err != nil {
		return nil, removed, err
	}
	if purgeErr != nil {
		// The listing succeeded; drop any expired leftovers the failed purge
		// would have removed so history never shows stale entries.
		records = filterUnexpired(records, service.nowFn())
	}
	return records, removed, nil
}

// RecentDownloads returns up to limit downloads across all users, newest first.
func (service *Service) RecentDownloads(ctx context.Context, limit int) ([]DownloadRecord, error) {
	return service.store.ListRecentDownloads(ctx, clampAdminLimit(limit))
}

// LatestDownload returns the most recent download of a preset by a user, with
// ties broken by the latest timestamp. The boolean is false when the user has
// never downloaded the preset.
func (service *Service) LatestDownload(ctx context.Context, userID UserID, preset PresetRef) (DownloadRecord, bool, error) {
	records, err := service.store.ListDownloads(ctx, userID.String())
	if err != nil {
		return DownloadRecord{}, false, err
	}
	latest, found := latestMatching(records, preset, func(DownloadRecord) bool { return true })
	return latest, found, err
}

// PurgeExpired deletes download records whose free-redownload window has
// lapsed and returns the count removed. Deleting an already-removed record is
// a no-op; a second pass right after a successful one removes nothing.
func (service *Service) PurgeExpired(ctx context.Context, userID UserID) (int, error) {
	records, err := service.store.ListDownloads(ctx, userID.String())
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationPurgeExpired, UserID: userID, Error: err})
		return 0, err
	}
	nowUnixMilli := service.nowFn()
	removed := 0
	var firstDeleteErr error
	for _, record := range records {
		if !IsExpired(record.DownloadedAtUnixMilli, nowUnixMilli) {
			continue
		}
		if deleteErr := service.store.DeleteDownload(ctx, userID.String(), record.DownloadID); deleteErr != nil {
			if firstDeleteErr == nil {
				firstDeleteErr = deleteErr
			}
			continue
		}
		removed++
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationPurgeExpired,
		UserID:    userID,
		Credits:   Credits(removed),
		Error:     firstDeleteErr,
	})
	return removed, firstDeleteErr
}

// RecordPayment appends exactly one confirmed record to the payment ledger.
// Confirmed records are immutable once written and are never deleted.
func (service *Service) RecordPayment(ctx context.Context, input PaymentInput) error {
	operationError := service.recordPayment(ctx, input)
	service.logOperation(ctx, OperationLog{
		Operation: operationRecordPayment,
		UserID:    input.UserID,
		Credits:   input.CreditsGranted,
		Error:     operationError,
	})
	return operationError
}

func (service *Service) recordPayment(ctx context.Context, input PaymentInput) error {
	if input.UserID.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	if input.Email.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidEmailAddress)
	}
	if input.PlanName == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidPlanName)
	}
	if input.PriceType != PriceOneTime && input.PriceType != PriceRecurring {
		return fmt.Errorf("%w: %q", ErrInvalidPriceType, input.PriceType)
	}
	return service.store.InsertPayment(ctx, PaymentRecord{
		UserID:                input.UserID.String(),
		UserEmail:             input.Email.String(),
		PlanName:              input.PlanName,
		PriceType:             input.PriceType,
		PriceCents:            input.PriceCents,
		CreditsGranted:        input.CreditsGranted,
		PurchasedAtUnixMilli:  service.nowFn(),
		Confirmed:             true,
		PaymentMethod:         input.PaymentMethod,
		ProviderTransactionID: input.ProviderTransactionID,
		MetadataJSON:          input.Metadata.String(),
	})
}

// RecordDownload appends one record to the consumption ledger. The download is
// free when the user's most recent paid download of the same preset is still
// inside its grace window; the window is anchored to that paid download, so a
// chain of free redownloads never extends free access. Outside the window the
// preset cost is charged and must fit in the available balance.
func (service *Service) RecordDownload(ctx context.Context, input DownloadInput) (DownloadRecord, error) {
	record, operationError := service.recordDownload(ctx, input)
	presetRef := input.Preset
	service.logOperation(ctx, OperationLog{
		Operation: operationRecordDownload,
		UserID:    input.UserID,
		Preset:    &presetRef,
		Credits:   record.CreditsCharged,
		Error:     operationError,
	})
	return record, operationError
}

func (service *Service) recordDownload(ctx context.Context, input DownloadInput) (DownloadRecord, error) {
	if input.UserID.String() == "" {
		return DownloadRecord{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	payments, downloads, err := service.fetchLedgers(ctx, input.UserID)
	if err != nil {
		return DownloadRecord{}, err
	}
	nowUnixMilli := service.nowFn()

	charge := input.Cost
	lastPaid, hasPaid := latestMatching(downloads, input.Preset, func(record DownloadRecord) bool {
		return record.CreditsCharged > 0
	})
	if hasPaid && !IsExpired(lastPaid.DownloadedAtUnixMilli, nowUnixMilli) {
		charge = 0
	}
	if charge > 0 {
		balance := computeBalance(payments, downloads, nowUnixMilli)
		if balance.AvailableCredits < charge {
			return DownloadRecord{}, ErrInsufficientCredits
		}
	}

	record := DownloadRecord{
		UserID:                input.UserID.String(),
		UserEmail:             input.Email.String(),
		Preset:                input.Preset,
		PresetName:            input.PresetName,
		FileName:              input.FileName,
		CreditsCharged:        charge,
		DownloadedAtUnixMilli: nowUnixMilli,
		DownloadURL:           input.DownloadURL,
	}
	if err := service.store.InsertDownload(ctx, record); err != nil {
		return DownloadRecord{}, err
	}
	return record, nil
}

// Favorite marks a preset as a favorite. Repeating the action is a no-op; the
// composite user/preset key guarantees at most one record per pair.
func (service *Service) Favorite(ctx context.Context, userID UserID, email EmailAddress, preset PresetRef, presetName string) error {
	operationError := service.store.PutFavorite(ctx, FavoriteRecord{
		UserID:               userID.String(),
		UserEmail:            email.String(),
		Preset:               preset,
		PresetName:           presetName,
		FavoritedAtUnixMilli: service.nowFn(),
	})
	presetRef := preset
	service.logOperation(ctx, OperationLog{
		Operation: operationFavorite,
		UserID:    userID,
		Preset:    &presetRef,
		Error:     operationError,
	})
	return operationError
}

// Unfavorite removes a favorite; removing a missing record is a no-op.
func (service *Service) Unfavorite(ctx context.Context, userID UserID, preset PresetRef) error {
	operationError := service.store.DeleteFavorite(ctx, userID.String(), preset)
	presetRef := preset
	service.logOperation(ctx, OperationLog{
		Operation: operationUnfavorite,
		UserID:    userID,
		Preset:    &presetRef,
		Error:     operationError,
	})
	return operationError
}

// Favorites lists the user's favorite presets.
func (service *Service) Favorites(ctx context.Context, userID UserID) ([]FavoriteRecord, error) {
	return service.store.ListFavorites(ctx, userID.String())
}

// GroupByCategory partitions download records into category buckets. The
// preferred categories lead in fixed order; any other categories encountered
// follow alphabetically. Record order within a bucket is preserved.
func GroupByCategory(records []DownloadRecord) []CategoryGroup {
	buckets := make(map[string][]DownloadRecord)
	for _, record := range records {
		category := record.Preset.Category()
		buckets[category] = append(buckets[category], record)
	}

	groups := make([]CategoryGroup, 0, len(buckets))
	seen := make(map[string]bool, len(buckets))
	for _, category := range preferredCategoryOrder {
		if bucket, ok := buckets[category]; ok {
			groups = append(groups, CategoryGroup{Category: category, Records: bucket})
			seen[category] = true
		}
	}
	var rest []string
	for category := range buckets {
		if !seen[category] {
			rest = append(rest, category)
		}
	}
	sort.Strings(rest)
	for _, category := range rest {
		groups = append(groups, CategoryGroup{Category: category, Records: buckets[category]})
	}
	return groups
}

// fetchLedgers reads the payment and consumption ledgers concurrently and
// joins before returning. This is a plain join, not a coordination protocol:
// both ledgers are append-only, so the reads cannot observe a torn view.
func (service *Service) fetchLedgers(ctx context.Context, userID UserID) ([]PaymentRecord, []DownloadRecord, error) {
	type downloadResult struct {
		records []DownloadRecord
		err     error
	}
	downloadCh := make(chan downloadResult, 1)
	go func() {
		records, err := service.store.ListDownloads(ctx, userID.String())
		downloadCh <- downloadResult{records: records, err: err}
	}()

	payments, paymentsErr := service.store.ListPayments(ctx, userID.String())
	downloads := <-downloadCh
	if paymentsErr != nil {
		return nil, nil, paymentsErr
	}
	if downloads.err != nil {
		return nil, nil, downloads.err
	}
	return payments, downloads.records, nil
}

func latestMatching(records []DownloadRecord, preset PresetRef, keep func(DownloadRecord) bool) (DownloadRecord, bool) {
	var latest DownloadRecord
	found := false
	for _, record := range records {
		if !record.Preset.Equal(preset) || !keep(record) {
			continue
		}
		if !found || record.DownloadedAtUnixMilli >= latest.DownloadedAtUnixMilli {
			latest = record
			found = true
		}
	}
	return latest, found
}

func filterUnexpired(records []DownloadRecord, nowUnixMilli int64) []DownloadRecord {
	kept := records[:0]
	for _, record := range records {
		if !IsExpired(record.DownloadedAtUnixMilli, nowUnixMilli) {
			kept = append(kept, record)
		}
	}
	return kept
}

func clampAdminLimit(limit int) int {
	if limit <= 0 || limit > DefaultAdminListLimit {
		return DefaultAdminListLimit
	}
	return limit
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
