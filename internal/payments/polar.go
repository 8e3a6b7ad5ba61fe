package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/presetstore/pkg/entitlement"
)

// Polar delivers standard-webhooks events: the signature covers
// "{id}.{timestamp}.{payload}" with an HMAC-SHA256 key carried after the
// "whsec_" prefix of the endpoint secret.
const (
	polarSecretPrefix          = "whsec_"
	polarSignatureVersion      = "v1"
	headerWebhookID            = "webhook-id"
	headerWebhookTimestamp     = "webhook-timestamp"
	headerWebhookSignature     = "webhook-signature"
	eventTypeOrderCreated      = "order.created"
	eventTypeCustomerState     = "customer.state_changed"
	paymentMethodPolarCheckout = "polar"
)

// VerifyPolarSignature checks the webhook HMAC against the endpoint secret.
func VerifyPolarSignature(secret string, payload []byte, header http.Header) error {
	webhookID := header.Get(headerWebhookID)
	timestamp := header.Get(headerWebhookTimestamp)
	signatureHeader := header.Get(headerWebhookSignature)
	if webhookID == "" || timestamp == "" || signatureHeader == "" {
		return ErrMissingSignature
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, polarSecretPrefix))
	if err != nil {
		return fmt.Errorf("%w: malformed endpoint secret", ErrInvalidSignature)
	}
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.%s", webhookID, timestamp, payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	// The header may carry several space-separated signatures during secret
	// rotation; any match passes.
	for _, candidate := range strings.Fields(signatureHeader) {
		version, signature, found := strings.Cut(candidate, ",")
		if !found || version != polarSignatureVersion {
			continue
		}
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

type polarEvent struct {
	Type string         `json:"type"`
	Data polarEventData `json:"data"`
}

type polarEventData struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata"`
	Customer polarCustomer     `json:"customer"`
}

type polarCustomer struct {
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

// ParsePolarEvent extracts a confirmed-payment input from an order-created or
// customer-state webhook event. Events this service does not consume return
// ErrUnsupportedEvent so the handler can acknowledge without writing.
func ParsePolarEvent(payload []byte) (entitlement.PaymentInput, error) {
	var event polarEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return entitlement.PaymentInput{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.Type != eventTypeOrderCreated && event.Type != eventTypeCustomerState {
		return entitlement.PaymentInput{}, fmt.Errorf("%w: %q", ErrUnsupportedEvent, event.Type)
	}

	metadata := mergedMetadata(event.Data.Metadata, event.Data.Customer.Metadata)
	userID, err := entitlement.NewUserID(metadata["user_id"])
	if err != nil {
		return entitlement.PaymentInput{}, fmt.Errorf("%w: user_id missing from event metadata", ErrMissingUserData)
	}
	rawEmail := metadata["user_email"]
	if rawEmail == "" {
		rawEmail = event.Data.Customer.Email
	}
	email, err := entitlement.NewEmailAddress(rawEmail)
	if err != nil {
		return entitlement.PaymentInput{}, fmt.Errorf("%w: user email missing from event", ErrMissingUserData)
	}
	if event.Data.ID == "" {
		return entitlement.PaymentInput{}, ErrMissingOrderID
	}

	planName := metadata["plan"]
	if planName == "" {
		planName = "polar-order"
	}
	credits := parseCreditsField(metadata["credits"])
	metadataJSON, err := entitlement.NewMetadataJSON(marshalMetadata(metadata))
	if err != nil {
		return entitlement.PaymentInput{}, err
	}

	return entitlement.PaymentInput{
		UserID:                userID,
		Email:                 email,
		PlanName:              planName,
		PriceType:             priceTypeFromMetadata(metadata),
		PriceCents:            event.Data.Amount,
		CreditsGranted:        credits,
		PaymentMethod:         paymentMethodPolarCheckout,
		ProviderTransactionID: event.Data.ID,
		Metadata:              metadataJSON,
	}, nil
}

func mergedMetadata(order map[string]string, customer map[string]string) map[string]string {
	merged := make(map[string]string, len(order)+len(customer))
	for key, value := range customer {
		merged[key] = value
	}
	for key, value := range order {
		merged[key] = value
	}
	return merged
}

func priceTypeFromMetadata(metadata map[string]string) entitlement.PriceType {
	if parsed, err := entitlement.ParsePriceType(metadata["price_type"]); err == nil {
		return parsed
	}
	return entitlement.PriceOneTime
}

func parseCreditsField(raw string) entitlement.Credits {
	var amount int64
	if _, err := fmt.Sscanf(strings.TrimSpace(raw), "%d", &amount); err != nil || amount < 0 {
		return 0
	}
	return entitlement.Credits(amount)
}

func marshalMetadata(metadata map[string]string) string {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
