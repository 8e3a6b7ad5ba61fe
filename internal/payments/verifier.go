package payments

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/presetstore/pkg/entitlement"
)

// Validation and verification errors surfaced as 4xx responses. None of them
// leaves a partial ledger write behind.
var (
	ErrMissingSignature   = errors.New("missing webhook signature")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrMalformedEvent     = errors.New("malformed webhook event")
	ErrUnsupportedEvent   = errors.New("unsupported webhook event")
	ErrMissingUserData    = errors.New("missing user data")
	ErrMissingOrderID     = errors.New("missing order id")
	ErrWrongAdminSecret   = errors.New("wrong admin secret")
	ErrTestModeDisabled   = errors.New("test mode disabled")
	ErrInvalidCreditGrant = errors.New("invalid credit grant")
)

const (
	paymentMethodPayPal       = "paypal"
	paymentMethodBankTransfer = "bank_transfer"
	paymentMethodTestMode     = "test"
)

// Recorder is the slice of the entitlement service the verifier needs.
type Recorder interface {
	RecordPayment(ctx context.Context, input entitlement.PaymentInput) error
}

// Verifier turns provider confirmations into confirmed payment records. Every
// successful verification path writes exactly one record.
type Verifier struct {
	recorder        Recorder
	bankAdminSecret string
	testModeEnabled bool
}

// NewVerifier wires a Verifier.
func NewVerifier(recorder Recorder, bankAdminSecret string, testModeEnabled bool) (*Verifier, error) {
	if recorder == nil {
		return nil, errors.New("recorder dependency is nil")
	}
	return &Verifier{
		recorder:        recorder,
		bankAdminSecret: bankAdminSecret,
		testModeEnabled: testModeEnabled,
	}, nil
}

// PurchaseClaim is the client-submitted payload of a manual verification
// endpoint.
type PurchaseClaim struct {
	OrderID    string `json:"order_id"`
	PlanName   string `json:"plan"`
	PriceType  string `json:"price_type"`
	PriceCents int64  `json:"price_cents"`
	Credits    int64  `json:"credits"`
}

// VerifyPayPal records a confirmed PayPal capture for the authenticated user.
func (verifier *Verifier) VerifyPayPal(ctx context.Context, userID entitlement.UserID, email entitlement.EmailAddress, claim PurchaseClaim) error {
	if claim.OrderID == "" {
		return ErrMissingOrderID
	}
	input, err := verifier.buildInput(userID, email, claim, paymentMethodPayPal)
	if err != nil {
		return err
	}
	return verifier.recorder.RecordPayment(ctx, input)
}

// VerifyBankTransfer records a confirmed bank transfer. The caller must
// present the shared admin secret; the user data comes from the payload
// because an admin confirms transfers on behalf of buyers.
func (verifier *Verifier) VerifyBankTransfer(ctx context.Context, providedSecret string, rawUserID string, rawEmail string, claim PurchaseClaim) error {
	if verifier.bankAdminSecret == "" || subtle.ConstantTimeCompare([]byte(providedSecret), []byte(verifier.bankAdminSecret)) != 1 {
		return ErrWrongAdminSecret
	}
	userID, err := entitlement.NewUserID(rawUserID)
	if err != nil {
		return fmt.Errorf("%w: user id", ErrMissingUserData)
	}
	email, err := entitlement.NewEmailAddress(rawEmail)
	if err != nil {
		return fmt.Errorf("%w: user email", ErrMissingUserData)
	}
	input, err := verifier.buildInput(userID, email, claim, paymentMethodBankTransfer)
	if err != nil {
		return err
	}
	return verifier.recorder.RecordPayment(ctx, input)
}

// VerifyTestPurchase records a confirmed test-mode purchase; it is rejected
// outright unless test mode is enabled by configuration.
func (verifier *Verifier) VerifyTestPurchase(ctx context.Context, userID entitlement.UserID, email entitlement.EmailAddress, claim PurchaseClaim) error {
	if !verifier.testModeEnabled {
		return ErrTestModeDisabled
	}
	input, err := verifier.buildInput(userID, email, claim, paymentMethodTestMode)
	if err != nil {
		return err
	}
	return verifier.recorder.RecordPayment(ctx, input)
}

// RecordPolarEvent writes the payment extracted from a verified webhook event.
func (verifier *Verifier) RecordPolarEvent(ctx context.Context, input entitlement.PaymentInput) error {
	return verifier.recorder.RecordPayment(ctx, input)
}

func (verifier *Verifier) buildInput(userID entitlement.UserID, email entitlement.EmailAddress, claim PurchaseClaim, method string) (entitlement.PaymentInput, error) {
	credits, err := entitlement.NewCredits(claim.Credits)
	if err != nil {
		return entitlement.PaymentInput{}, fmt.Errorf("%w: %v", ErrInvalidCreditGrant, err)
	}
	priceType := entitlement.PriceOneTime
	if claim.PriceType != "" {
		priceType, err = entitlement.ParsePriceType(claim.PriceType)
		if err != nil {
			return entitlement.PaymentInput{}, err
		}
	}
	planName := claim.PlanName
	if planName == "" {
		planName = method + "-purchase"
	}
	metadata, err := entitlement.NewMetadataJSON("")
	if err != nil {
		return entitlement.PaymentInput{}, err
	}
	return entitlement.PaymentInput{
		UserID:                userID,
		Email:                 email,
		PlanName:              planName,
		PriceType:             priceType,
		PriceCents:            claim.PriceCents,
		CreditsGranted:        credits,
		PaymentMethod:         method,
		ProviderTransactionID: claim.OrderID,
		Metadata:              metadata,
	}, nil
}
