package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/presetstore/internal/catalog"
	"github.com/MarkoPoloResearchLab/presetstore/pkg/entitlement"
)

func (handler *httpHandler) handleSession(ctx *gin.Context) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "please log in"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"user_id":    claims.GetUserID(),
		"email":      claims.GetUserEmail(),
		"display":    claims.GetUserDisplayName(),
		"avatar_url": claims.GetUserAvatarURL(),
		"roles":      claims.GetUserRoles(),
		"expires":    claims.GetExpiresAt().Unix(),
	})
}

// handleProfile rebuilds the derived user aggregate. Ledger read failures are
// logged and degrade to an empty profile; the page renders what it has.
func (handler *httpHandler) handleProfile(ctx *gin.Context) {
	userID, _, claims, ok := handler.currentUser(ctx)
	if !ok {
		return
	}
	profile, err := handler.service.Profile(ctx.Request.Context(), userID, claims.GetUserEmail(), claims.GetUserDisplayName())
	if err != nil {
		handler.logger.Error("profile read failed", zap.String("user_id", userID.String()), zap.Error(err))
		profile = entitlement.UserProfile{
			UserID:      claims.GetUserID(),
			Email:       claims.GetUserEmail(),
			DisplayName: claims.GetUserDisplayName(),
		}
	}
	ctx.JSON(http.StatusOK, gin.H{"profile": profilePayloadFrom(profile)})
}

// handleDownloadHistory purges expired records, then returns the surviving
// history grouped by category with per-record redownload labels.
func (handler *httpHandler) handleDownloadHistory(ctx *gin.Context) {
	userID, _, _, ok := handler.currentUser(ctx)
	if !ok {
		return
	}
	records, removed, err := handler.service.DownloadHistory(ctx.Request.Context(), userID)
	if err != nil {
		handler.logger.Error("download history read failed", zap.String("user_id", userID.String()), zap.Error(err))
		records = nil
	}
	nowUnixMilli := time.Now().UnixMilli()
	groups := make([]downloadGroupPayload, 0)
	for _, group := range entitlement.GroupByCategory(records) {
		payloads := make([]downloadPayload, 0, len(group.Records))
		for _, record := range group.Records {
			payloads = append(payloads, downloadPayloadFrom(record, nowUnixMilli))
		}
		groups = append(groups, downloadGroupPayload{Category: group.Category, Downloads: payloads})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"groups":  groups,
		"removed": removed,
	})
}

type downloadRequest struct {
	Category   string `json:"category"`
	Key        string `json:"key"`
	PresetName string `json:"preset_name"`
	FileName   string `json:"file_name"`
	Cost       int64  `json:"cost"`
}

func (handler *httpHandler) handleDownload(ctx *gin.Context) {
	userID, email, _, ok := handler.currentUser(ctx)
	if !ok {
		return
	}
	var request downloadRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	preset, err := entitlement.NewPresetRef(request.Category, request.Key)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_preset", "category and key are required"))
		return
	}
	cost, err := entitlement.NewCredits(request.Cost)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_cost", "cost must not be negative"))
		return
	}
	fileName := request.FileName
	if fileName == "" {
		fileName = request.Key + ".fxp"
	}

	record, err := handler.service.RecordDownload(ctx.Request.Context(), entitlement.DownloadInput{
		UserID:      userID,
		Email:       email,
		Preset:      preset,
		PresetName:  request.PresetName,
		FileName:    fileName,
		Cost:        cost,
		DownloadURL: handler.catalog.DownloadPath(preset.Category(), preset.Key(), fileName),
	})
	if errors.Is(err, entitlement.ErrInsufficientCredits) {
		ctx.JSON(http.StatusPaymentRequired, errorResponse("insufficient_credits", "not enough credits for this download"))
		return
	}
	if err != nil {
		handler.logger.Error("download failed", zap.String("user_id", userID.String()), zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", "failed to record download"))
		return
	}

	balance, balanceErr := handler.service.Balance(ctx.Request.Context(), userID)
	if balanceErr != nil {
		handler.logger.Error("balance read failed", zap.String("user_id", userID.String()), zap.Error(balanceErr))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"download": downloadPayloadFrom(record, time.Now().UnixMilli()),
		"balance":  balancePayloadFrom(balance),
	})
}

func (handler *httpHandler) handleListFavorites(ctx *gin.Context) {
	userID, _, _, ok := handler.currentUser(ctx)
	if !ok {
		return
	}
	favorites, err := handler.service.Favorites(ctx.Request.Context(), userID)
	if err != nil {
		handler.logger.Error("favorites read failed", zap.String("user_id", userID.String()), zap.Error(err))
		favorites = nil
	}
	payloads := make([]favoritePayload, 0, len(favorites))
	for _, favorite := range favorites {
		payloads = append(payloads, favoritePayload{
			Category:             favorite.Preset.Category(),
			Key:                  favorite.Preset.Key(),
			PresetName:           favorite.PresetName,
			FavoritedAtUnixMilli: favorite.FavoritedAtUnixMilli,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"favorites": payloads})
}

type favoriteRequest struct {
	Category   string `json:"category"`
	Key        string `json:"key"`
	PresetName string `json:"preset_name"`
}

func (handler *httpHandler) handleFavorite(ctx *gin.Context) {
	userID, email, _, ok := handler.currentUser(ctx)
	if !ok {
		return
	}
	var request favoriteRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	preset, err := entitlement.NewPresetRef(request.Category, request.Key)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_preset", "category and key are required"))
		return
	}
	if err := handler.service.Favorite(ctx.Request.Context(), userID, email, preset, request.PresetName); err != nil {
		handler.logger.Error("favorite failed", zap.String("user_id", userID.String()), zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", "failed to save favorite"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) handleUnfavorite(ctx *gin.Context) {
	userID, _, _, ok := handler.currentUser(ctx)
	if !ok {
		return
	}
	preset, err := entitlement.NewPresetRef(ctx.Query("category"), ctx.Query("key"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_preset", "category and key are required"))
		return
	}
	if err := handler.service.Unfavorite(ctx.Request.Context(), userID, preset); err != nil {
		handler.logger.Error("unfavorite failed", zap.String("user_id", userID.String()), zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", "failed to remove favorite"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) handleCategories(ctx *gin.Context) {
	categories, err := handler.catalog.ListCategories(ctx.Request.Context())
	if err != nil {
		handler.logger.Error("category listing failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("content_store_error", "failed to load"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"categories": categories})
}

func (handler *httpHandler) handleManifest(ctx *gin.Context) {
	manifest, err := handler.catalog.FetchManifest(ctx.Request.Context(), ctx.Param("category"), ctx.Param("key"))
	if errors.Is(err, catalog.ErrManifestNotFound) {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "preset not found"))
		return
	}
	if err != nil {
		handler.logger.Error("manifest fetch failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("content_store_error", "failed to load"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"preset": manifest.Preset})
}

// currentUser extracts the authenticated user from session claims, answering
// 401 itself when the session is missing or carries malformed identity data.
func (handler *httpHandler) currentUser(ctx *gin.Context) (entitlement.UserID, entitlement.EmailAddress, *sessionvalidator.Claims, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "please log in"))
		return entitlement.UserID{}, entitlement.EmailAddress{}, nil, false
	}
	userID, err := entitlement.NewUserID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "please log in"))
		return entitlement.UserID{}, entitlement.EmailAddress{}, nil, false
	}
	email, err := entitlement.NewEmailAddress(claims.GetUserEmail())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "please log in"))
		return entitlement.UserID{}, entitlement.EmailAddress{}, nil, false
	}
	return userID, email, claims, true
}

type profilePayload struct {
	UserID      string           `json:"user_id"`
	Email       string           `json:"email"`
	DisplayName string           `json:"display_name"`
	Balance     balancePayload   `json:"balance"`
	Payments    []paymentPayload `json:"payments"`
}

type balancePayload struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Available int64 `json:"available"`
}

type paymentPayload struct {
	PlanName             string `json:"plan"`
	PriceType            string `json:"price_type"`
	PriceCents           int64  `json:"price_cents"`
	Credits              int64  `json:"credits"`
	PurchasedAtUnixMilli int64  `json:"purchased_at_unix_milli"`
	PaymentMethod        string `json:"payment_method"`
	TransactionID        string `json:"transaction_id,omitempty"`
}

type downloadGroupPayload struct {
	Category  string            `json:"category"`
	Downloads []downloadPayload `json:"downloads"`
}

type downloadPayload struct {
	Category              string `json:"category"`
	Key                   string `json:"key"`
	PresetName            string `json:"preset_name"`
	FileName              string `json:"file_name"`
	CreditsCharged        int64  `json:"credits_charged"`
	DownloadedAtUnixMilli int64  `json:"downloaded_at_unix_milli"`
	DownloadURL           string `json:"download_url"`
	RedownloadLabel       string `json:"redownload_label"`
}

type favoritePayload struct {
	Category             string `json:"category"`
	Key                  string `json:"key"`
	PresetName           string `json:"preset_name"`
	FavoritedAtUnixMilli int64  `json:"favorited_at_unix_milli"`
}

func profilePayloadFrom(profile entitlement.UserProfile) profilePayload {
	paymentPayloads := make([]paymentPayload, 0, len(profile.Payments))
	for _, payment := range profile.Payments {
		paymentPayloads = append(paymentPayloads, paymentPayload{
			PlanName:             payment.PlanName,
			PriceType:            payment.PriceType.String(),
			PriceCents:           payment.PriceCents,
			Credits:              payment.CreditsGranted.Int64(),
			PurchasedAtUnixMilli: payment.PurchasedAtUnixMilli,
			PaymentMethod:        payment.PaymentMethod,
			TransactionID:        payment.ProviderTransactionID,
		})
	}
	return profilePayload{
		UserID:      profile.UserID,
		Email:       profile.Email,
		DisplayName: profile.DisplayName,
		Balance:     balancePayloadFrom(profile.Balance),
		Payments:    paymentPayloads,
	}
}

func balancePayloadFrom(balance entitlement.Balance) balancePayload {
	return balancePayload{
		Total:     balance.TotalCredits.Int64(),
		Used:      balance.UsedCredits.Int64(),
		Available: balance.AvailableCredits.Int64(),
	}
}

func downloadPayloadFrom(record entitlement.DownloadRecord, nowUnixMilli int64) downloadPayload {
	return downloadPayload{
		Category:              record.Preset.Category(),
		Key:                   record.Preset.Key(),
		PresetName:            record.PresetName,
		FileName:              record.FileName,
		CreditsCharged:        record.CreditsCharged.Int64(),
		DownloadedAtUnixMilli: record.DownloadedAtUnixMilli,
		DownloadURL:           record.DownloadURL,
		RedownloadLabel:       entitlement.RemainingLabel(record.DownloadedAtUnixMilli, nowUnixMilli),
	}
}
