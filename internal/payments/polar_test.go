package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

const polarOrderPayload = `{
  "type": "order.created",
  "data": {
    "id": "order-123",
    "amount": 1999,
    "metadata": {"user_id": "user-1", "user_email": "user-1@example.com", "plan": "Producer", "credits": "100"},
    "customer": {"email": "customer@example.com"}
  }
}`

func TestVerifyPolarSignatureAcceptsValidSignature(test *testing.T) {
	test.Parallel()
	secret, header := signPolarPayload(test, []byte(polarOrderPayload), "msg-1", "1700000000")
	if err := VerifyPolarSignature(secret, []byte(polarOrderPayload), header); err != nil {
		test.Fatalf("verify: %v", err)
	}
}

func TestVerifyPolarSignatureRejectsTamperedPayload(test *testing.T) {
	test.Parallel()
	secret, header := signPolarPayload(test, []byte(polarOrderPayload), "msg-2", "1700000000")
	err := VerifyPolarSignature(secret, []byte(`{"type":"order.created"}`), header)
	if !errors.Is(err, ErrInvalidSignature) {
		test.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyPolarSignatureRequiresHeaders(test *testing.T) {
	test.Parallel()
	err := VerifyPolarSignature("whsec_"+base64.StdEncoding.EncodeToString([]byte("key")), []byte("{}"), http.Header{})
	if !errors.Is(err, ErrMissingSignature) {
		test.Fatalf("expected ErrMissingSignature, got %v", err)
	}
}

func TestParsePolarEventOrderCreated(test *testing.T) {
	test.Parallel()
	input, err := ParsePolarEvent([]byte(polarOrderPayload))
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if input.UserID.String() != "user-1" {
		test.Fatalf("unexpected user id %q", input.UserID.String())
	}
	if input.Email.String() != "user-1@example.com" {
		test.Fatalf("unexpected email %q", input.Email.String())
	}
	if input.PlanName != "Producer" {
		test.Fatalf("unexpected plan %q", input.PlanName)
	}
	if input.CreditsGranted != 100 {
		test.Fatalf("unexpected credits %d", input.CreditsGranted)
	}
	if input.ProviderTransactionID != "order-123" {
		test.Fatalf("unexpected transaction id %q", input.ProviderTransactionID)
	}
	if input.PaymentMethod != "polar" {
		test.Fatalf("unexpected method %q", input.PaymentMethod)
	}
}

func TestParsePolarEventFallsBackToCustomerEmail(test *testing.T) {
	test.Parallel()
	payload := `{
	  "type": "order.created",
	  "data": {
	    "id": "order-9",
	    "amount": 999,
	    "metadata": {"user_id": "user-9", "credits": "50"},
	    "customer": {"email": "fallback@example.com"}
	  }
	}`
	input, err := ParsePolarEvent([]byte(payload))
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	if input.Email.String() != "fallback@example.com" {
		test.Fatalf("expected customer email fallback, got %q", input.Email.String())
	}
}

func TestParsePolarEventUnsupportedType(test *testing.T) {
	test.Parallel()
	_, err := ParsePolarEvent([]byte(`{"type":"benefit.granted","data":{"id":"x"}}`))
	if !errors.Is(err, ErrUnsupportedEvent) {
		test.Fatalf("expected ErrUnsupportedEvent, got %v", err)
	}
}

func TestParsePolarEventMissingUserMetadata(test *testing.T) {
	test.Parallel()
	_, err := ParsePolarEvent([]byte(`{"type":"order.created","data":{"id":"order-2","metadata":{}}}`))
	if !errors.Is(err, ErrMissingUserData) {
		test.Fatalf("expected ErrMissingUserData, got %v", err)
	}
}

func signPolarPayload(test *testing.T, payload []byte, webhookID string, timestamp string) (string, http.Header) {
	test.Helper()
	key := []byte("endpoint-secret-key")
	secret := "whsec_" + base64.StdEncoding.EncodeToString(key)
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.%s", webhookID, timestamp, payload)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	header := http.Header{}
	header.Set("webhook-id", webhookID)
	header.Set("webhook-timestamp", timestamp)
	header.Set("webhook-signature", "v1,"+signature)
	return secret, header
}
