package httpserver

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/presetstore/internal/payments"
	"github.com/MarkoPoloResearchLab/presetstore/pkg/entitlement"
)

// handlePolarWebhook verifies the delivery signature, extracts the payment and
// appends it to the ledger. Redeliveries hit the provider-transaction unique
// index and are acknowledged without a second write.
func (handler *httpHandler) handlePolarWebhook(ctx *gin.Context) {
	payload, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "failed to read body"))
		return
	}
	if err := payments.VerifyPolarSignature(handler.cfg.PolarWebhookSecret, payload, ctx.Request.Header); err != nil {
		handler.logger.Warn("webhook signature rejected", zap.Error(err))
		if errors.Is(err, payments.ErrMissingSignature) {
			ctx.JSON(http.StatusUnauthorized, errorResponse("missing_signature", "signature headers are required"))
			return
		}
		ctx.JSON(http.StatusForbidden, errorResponse("invalid_signature", "signature verification failed"))
		return
	}

	input, err := payments.ParsePolarEvent(payload)
	if errors.Is(err, payments.ErrUnsupportedEvent) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if err != nil {
		handler.logger.Warn("webhook event rejected", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_event", "event could not be processed"))
		return
	}

	err = handler.verifier.RecordPolarEvent(ctx.Request.Context(), input)
	if errors.Is(err, entitlement.ErrDuplicateTransaction) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	if err != nil {
		handler.logger.Error("webhook ledger write failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", "failed to record payment"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) handlePayPalVerify(ctx *gin.Context) {
	userID, email, _, ok := handler.currentUser(ctx)
	if !ok {
		return
	}
	var claim payments.PurchaseClaim
	if err := ctx.ShouldBindJSON(&claim); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	handler.respondVerification(ctx, userID, handler.verifier.VerifyPayPal(ctx.Request.Context(), userID, email, claim))
}

type bankTransferRequest struct {
	AdminSecret string                 `json:"admin_secret"`
	UserID      string                 `json:"user_id"`
	UserEmail   string                 `json:"user_email"`
	Claim       payments.PurchaseClaim `json:"claim"`
}

// handleBankTransferVerify runs outside session auth: an admin confirms
// transfers on behalf of buyers using the shared secret.
func (handler *httpHandler) handleBankTransferVerify(ctx *gin.Context) {
	var request bankTransferRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	err := handler.verifier.VerifyBankTransfer(ctx.Request.Context(), request.AdminSecret, request.UserID, request.UserEmail, request.Claim)
	if errors.Is(err, payments.ErrWrongAdminSecret) {
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", "access denied"))
		return
	}
	if err != nil {
		handler.respondVerificationError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (handler *httpHandler) handleTestVerify(ctx *gin.Context) {
	userID, email, _, ok := handler.currentUser(ctx)
	if !ok {
		return
	}
	var claim payments.PurchaseClaim
	if err := ctx.ShouldBindJSON(&claim); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	err := handler.verifier.VerifyTestPurchase(ctx.Request.Context(), userID, email, claim)
	if errors.Is(err, payments.ErrTestModeDisabled) {
		ctx.JSON(http.StatusForbidden, errorResponse("test_mode_disabled", "test purchases are disabled"))
		return
	}
	handler.respondVerification(ctx, userID, err)
}

// respondVerification answers a manual verification call, attaching the fresh
// balance so the client can update without a second round trip.
func (handler *httpHandler) respondVerification(ctx *gin.Context, userID entitlement.UserID, err error) {
	if err != nil {
		handler.respondVerificationError(ctx, err)
		return
	}
	balance, balanceErr := handler.service.Balance(ctx.Request.Context(), userID)
	if balanceErr != nil {
		handler.logger.Error("balance read failed", zap.String("user_id", userID.String()), zap.Error(balanceErr))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"balance": balancePayloadFrom(balance),
	})
}

func (handler *httpHandler) respondVerificationError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, entitlement.ErrDuplicateTransaction):
		ctx.JSON(http.StatusConflict, errorResponse("duplicate_transaction", "this transaction was already recorded"))
	case errors.Is(err, payments.ErrMissingOrderID):
		ctx.JSON(http.StatusBadRequest, errorResponse("missing_order_id", "order id is required"))
	case errors.Is(err, payments.ErrMissingUserData):
		ctx.JSON(http.StatusBadRequest, errorResponse("missing_user_data", "user id and email are required"))
	case errors.Is(err, payments.ErrInvalidCreditGrant), errors.Is(err, entitlement.ErrInvalidPriceType):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_claim", "purchase claim is invalid"))
	default:
		handler.logger.Error("payment verification failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("ledger_error", "failed to record payment"))
	}
}
