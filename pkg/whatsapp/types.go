package whatsapp

import (
	"fmt"

	"wacampaign/internal/models"
)

// SendMessageResponse is the provider's reply to a successful submission.
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// SendError is a classified provider failure.
type SendError struct {
	StatusCode int
	Class      models.ErrorClass
	Detail     string
}

func (e *SendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("whatsapp send failed (%s, status %d): %s", e.Class, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("whatsapp send failed (%s): %s", e.Class, e.Detail)
}

// ClassifyStatus maps an HTTP response code onto the retry classification.
func ClassifyStatus(statusCode int) models.ErrorClass {
	switch {
	case statusCode == 400 || statusCode == 404 || statusCode == 410:
		return models.ErrClassInvalidRecipient
	case statusCode == 429:
		return models.ErrClassProviderRateLimited
	case statusCode >= 500:
		return models.ErrClassTransientNetwork
	default:
		return models.ErrClassProviderRejected
	}
}

// ClassOf extracts the error class from an error, defaulting unclassified
// errors (timeouts, connection resets) to transient_network.
func ClassOf(err error) models.ErrorClass {
	if sendErr, ok := err.(*SendError); ok {
		return sendErr.Class
	}
	return models.ErrClassTransientNetwork
}
