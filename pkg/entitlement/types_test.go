package entitlement

import (
	"errors"
	"testing"
)

func TestNewUserIDNormalizes(test *testing.T) {
	test.Parallel()
	userID, err := NewUserID("  user-42  ")
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	if userID.String() != "user-42" {
		test.Fatalf("expected trimmed id, got %q", userID.String())
	}
	if _, err := NewUserID("   "); !errors.Is(err, ErrInvalidUserID) {
		test.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestNewEmailAddressRejectsMalformedInput(test *testing.T) {
	test.Parallel()
	if _, err := NewEmailAddress("not-an-email"); !errors.Is(err, ErrInvalidEmailAddress) {
		test.Fatalf("expected ErrInvalidEmailAddress, got %v", err)
	}
	address, err := NewEmailAddress(" someone@example.com ")
	if err != nil {
		test.Fatalf("email: %v", err)
	}
	if address.String() != "someone@example.com" {
		test.Fatalf("expected trimmed address, got %q", address.String())
	}
}

func TestNewPresetRefRequiresBothParts(test *testing.T) {
	test.Parallel()
	if _, err := NewPresetRef("", "glow"); !errors.Is(err, ErrInvalidPresetRef) {
		test.Fatalf("expected ErrInvalidPresetRef for empty category, got %v", err)
	}
	if _, err := NewPresetRef("premium", " "); !errors.Is(err, ErrInvalidPresetRef) {
		test.Fatalf("expected ErrInvalidPresetRef for empty key, got %v", err)
	}
	ref, err := NewPresetRef("premium", "glow")
	if err != nil {
		test.Fatalf("preset ref: %v", err)
	}
	if ref.Category() != "premium" || ref.Key() != "glow" {
		test.Fatalf("unexpected ref: %+v", ref)
	}
}

func TestNewCreditsAllowsZeroRejectsNegative(test *testing.T) {
	test.Parallel()
	credits, err := NewCredits(0)
	if err != nil {
		test.Fatalf("zero credits must be valid: %v", err)
	}
	if credits != 0 {
		test.Fatalf("expected 0, got %d", credits)
	}
	if _, err := NewCredits(-1); !errors.Is(err, ErrInvalidCredits) {
		test.Fatalf("expected ErrInvalidCredits, got %v", err)
	}
}

func TestNewMetadataJSONValidation(test *testing.T) {
	test.Parallel()
	metadata, err := NewMetadataJSON("")
	if err != nil {
		test.Fatalf("empty metadata: %v", err)
	}
	if metadata.String() != "{}" {
		test.Fatalf("expected {} default, got %q", metadata.String())
	}
	if _, err := NewMetadataJSON("{broken"); !errors.Is(err, ErrInvalidMetadataJSON) {
		test.Fatalf("expected ErrInvalidMetadataJSON, got %v", err)
	}
}

func TestParsePriceType(test *testing.T) {
	test.Parallel()
	if _, err := ParsePriceType("one_time"); err != nil {
		test.Fatalf("one_time: %v", err)
	}
	if _, err := ParsePriceType("recurring"); err != nil {
		test.Fatalf("recurring: %v", err)
	}
	if _, err := ParsePriceType("weekly"); !errors.Is(err, ErrInvalidPriceType) {
		test.Fatalf("expected ErrInvalidPriceType, got %v", err)
	}
}

func TestOperationErrorFormatting(test *testing.T) {
	test.Parallel()
	wrapped := WrapError("store", "payment", "insert", ErrDuplicateTransaction)
	if wrapped.Error() != "store.payment.insert: duplicate provider transaction" {
		test.Fatalf("unexpected message: %q", wrapped.Error())
	}
	if !errors.Is(wrapped, ErrDuplicateTransaction) {
		test.Fatalf("expected unwrap to reach the sentinel")
	}
	var operationError OperationError
	if !errors.As(wrapped, &operationError) {
		test.Fatalf("expected an OperationError")
	}
	if operationError.Operation() != "store" || operationError.Subject() != "payment" || operationError.Code() != "insert" {
		test.Fatalf("unexpected segments: %+v", operationError)
	}
	if WrapError("store", "payment", "insert", nil) != nil {
		test.Fatalf("wrapping nil must return nil")
	}
}
