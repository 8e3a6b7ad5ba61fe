package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/presetstore/internal/catalog"
	"github.com/MarkoPoloResearchLab/presetstore/internal/reporting"
	"github.com/MarkoPoloResearchLab/presetstore/pkg/entitlement"
)

// Admin listings degrade to empty on ledger failures; the dashboard renders
// what it can and the error lands in the log.
func (handler *httpHandler) handleAdminPayments(ctx *gin.Context) {
	payments, err := handler.service.RecentPayments(ctx.Request.Context(), parseLimit(ctx))
	if err != nil {
		handler.logger.Error("admin payment listing failed", zap.Error(err))
		payments = nil
	}
	payloads := make([]adminPaymentPayload, 0, len(payments))
	for _, payment := range payments {
		payloads = append(payloads, adminPaymentPayloadFrom(payment))
	}
	ctx.JSON(http.StatusOK, gin.H{"payments": payloads})
}

func (handler *httpHandler) handleAdminDownloads(ctx *gin.Context) {
	downloads, err := handler.service.RecentDownloads(ctx.Request.Context(), parseLimit(ctx))
	if err != nil {
		handler.logger.Error("admin download listing failed", zap.Error(err))
		downloads = nil
	}
	nowUnixMilli := time.Now().UnixMilli()
	payloads := make([]adminDownloadPayload, 0, len(downloads))
	for _, download := range downloads {
		payloads = append(payloads, adminDownloadPayload{
			UserID:          download.UserID,
			UserEmail:       download.UserEmail,
			downloadPayload: downloadPayloadFrom(download, nowUnixMilli),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"downloads": payloads})
}

// handleAdminMetrics buckets recent payment and download activity by day over
// the requested window.
func (handler *httpHandler) handleAdminMetrics(ctx *gin.Context) {
	windowLabel := ctx.DefaultQuery("window", string(reporting.Window7d))
	window, err := reporting.ParseWindow(windowLabel)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_window", "window must be one of today, 7d, 30d, 1y"))
		return
	}

	payments, err := handler.service.RecentPayments(ctx.Request.Context(), entitlement.DefaultAdminListLimit)
	if err != nil {
		handler.logger.Error("admin metrics payment read failed", zap.Error(err))
		payments = nil
	}
	downloads, err := handler.service.RecentDownloads(ctx.Request.Context(), entitlement.DefaultAdminListLimit)
	if err != nil {
		handler.logger.Error("admin metrics download read failed", zap.Error(err))
		downloads = nil
	}

	paymentTimes := make([]int64, 0, len(payments))
	var revenueCents int64
	var creditsGranted int64
	for _, payment := range payments {
		paymentTimes = append(paymentTimes, payment.PurchasedAtUnixMilli)
		revenueCents += payment.PriceCents
		creditsGranted += payment.CreditsGranted.Int64()
	}
	downloadTimes := make([]int64, 0, len(downloads))
	for _, download := range downloads {
		downloadTimes = append(downloadTimes, download.DownloadedAtUnixMilli)
	}

	nowUnixMilli := time.Now().UnixMilli()
	ctx.JSON(http.StatusOK, gin.H{
		"window":          window,
		"payments":        reporting.BucketByDay(paymentTimes, window, nowUnixMilli),
		"downloads":       reporting.BucketByDay(downloadTimes, window, nowUnixMilli),
		"revenue_cents":   revenueCents,
		"credits_granted": creditsGranted,
	})
}

// handleAdminFilters walks the content store and folds every preset manifest
// into per-dimension tag frequency tables. Presets without a manifest are
// skipped; the tables cover what could be read.
func (handler *httpHandler) handleAdminFilters(ctx *gin.Context) {
	requestCtx := ctx.Request.Context()
	categories, err := handler.catalog.ListCategories(requestCtx)
	if err != nil {
		handler.logger.Error("category listing failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("content_store_error", "failed to load"))
		return
	}

	var manifests []catalog.PresetManifest
	for _, category := range categories {
		keys, err := handler.catalog.ListPresetKeys(requestCtx, category)
		if err != nil {
			handler.logger.Error("preset listing failed", zap.String("category", category), zap.Error(err))
			continue
		}
		for _, key := range keys {
			manifest, err := handler.catalog.FetchManifest(requestCtx, category, key)
			if errors.Is(err, catalog.ErrManifestNotFound) {
				continue
			}
			if err != nil {
				handler.logger.Error("manifest fetch failed", zap.String("category", category), zap.String("key", key), zap.Error(err))
				continue
			}
			manifests = append(manifests, manifest)
		}
	}

	frequencies := reporting.CountFilters(manifests)
	ctx.JSON(http.StatusOK, gin.H{
		"presets": len(manifests),
		"filters": gin.H{
			"daw":    frequencies.DAW,
			"genre":  frequencies.Genre,
			"gender": frequencies.Gender,
			"plugin": frequencies.Plugin,
		},
	})
}

func (handler *httpHandler) handleAdminDownloadsCSV(ctx *gin.Context) {
	downloads, err := handler.service.RecentDownloads(ctx.Request.Context(), parseLimit(ctx))
	if err != nil {
		handler.logger.Error("admin csv export failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", "failed to export downloads"))
		return
	}
	ctx.Header("Content-Type", "text/csv")
	ctx.Header("Content-Disposition", `attachment; filename="downloads.csv"`)
	ctx.Status(http.StatusOK)
	if err := reporting.WriteDownloadsCSV(ctx.Writer, downloads); err != nil {
		handler.logger.Error("csv write failed", zap.Error(err))
	}
}

func parseLimit(ctx *gin.Context) int {
	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", "0"))
	if err != nil {
		return 0
	}
	return limit
}

type adminPaymentPayload struct {
	PaymentID string `json:"payment_id"`
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	paymentPayload
}

type adminDownloadPayload struct {
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	downloadPayload
}

func adminPaymentPayloadFrom(payment entitlement.PaymentRecord) adminPaymentPayload {
	return adminPaymentPayload{
		PaymentID: payment.PaymentID,
		UserID:    payment.UserID,
		UserEmail: payment.UserEmail,
		paymentPayload: paymentPayload{
			PlanName:             payment.PlanName,
			PriceType:            payment.PriceType.String(),
			PriceCents:           payment.PriceCents,
			Credits:              payment.CreditsGranted.Int64(),
			PurchasedAtUnixMilli: payment.PurchasedAtUnixMilli,
			PaymentMethod:        payment.PaymentMethod,
			TransactionID:        payment.ProviderTransactionID,
		},
	}
}
