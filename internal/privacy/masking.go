package privacy

import "strings"

// MaskPhoneNumber masks a phone number showing only the last 4 digits.
// Example: "919876543210" -> "********3210"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// MaskProviderMessageID masks a provider message id while keeping the tail
// for log correlation.
func MaskProviderMessageID(id string) string {
	return maskString(id, 8)
}

// MaskLeadID masks a CRM lead identifier.
func MaskLeadID(id string) string {
	return maskString(id, 4)
}

// maskString masks a string showing only the last n characters.
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}
