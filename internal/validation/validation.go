package validation

import (
	"fmt"
	"strings"
	"unicode"

	"wacampaign/internal/errors"
	"wacampaign/internal/models"
)

const (
	minPhoneNumberLength = 7
	maxPhoneNumberLength = 15
)

// NormalizePhoneNumber reduces a phone number to its canonical
// international-digits form: digits only, no plus sign, spaces, dashes or
// parentheses. Numbers given in national format (10 digits, or a leading
// trunk zero) are prefixed with defaultCountryCode so that differently
// formatted inputs for the same line normalize to the same string.
func NormalizePhoneNumber(phone, defaultCountryCode string) (string, error) {
	var b strings.Builder
	international := strings.HasPrefix(strings.TrimSpace(phone), "+")
	for _, r := range phone {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
			// formatting characters
		default:
			return "", errors.Newf(errors.ErrCodeInvalidInput, "phone number contains invalid character %q", r)
		}
	}

	normalized := b.String()
	// "00" international call prefix
	if strings.HasPrefix(normalized, "00") {
		normalized = normalized[2:]
		international = true
	}
	if !international && defaultCountryCode != "" {
		trimmed := strings.TrimPrefix(normalized, "0")
		if len(trimmed) == 10 {
			normalized = defaultCountryCode + trimmed
		}
	}
	if len(normalized) < minPhoneNumberLength {
		return "", errors.Newf(errors.ErrCodeInvalidInput, "phone number must have at least %d digits", minPhoneNumberLength)
	}
	if len(normalized) > maxPhoneNumberLength {
		return "", errors.Newf(errors.ErrCodeInvalidInput, "phone number too long (max %d digits)", maxPhoneNumberLength)
	}
	return normalized, nil
}

// ValidatePayload checks that a message payload carries exactly the variant
// announced by its type tag.
func ValidatePayload(p models.MessagePayload) error {
	switch p.Type {
	case models.PayloadText:
		if p.Text == nil || p.Text.Body == "" {
			return errors.New(errors.ErrCodeValidationFailed, "text payload requires a body")
		}
	case models.PayloadTemplate:
		if p.Template == nil || p.Template.Name == "" {
			return errors.New(errors.ErrCodeValidationFailed, "template payload requires a template name")
		}
	case models.PayloadMedia:
		if p.Media == nil || p.Media.URL == "" {
			return errors.New(errors.ErrCodeValidationFailed, "media payload requires a URL")
		}
		switch p.Media.Kind {
		case "image", "video", "document", "voice":
		default:
			return errors.Newf(errors.ErrCodeValidationFailed, "unknown media kind: %s", p.Media.Kind)
		}
	default:
		return errors.Newf(errors.ErrCodeValidationFailed, "unknown payload type: %s", p.Type)
	}
	return nil
}

// ValidateRecipientSpec checks targeting before a broadcast is accepted.
func ValidateRecipientSpec(spec models.RecipientSpec) error {
	switch spec.Type {
	case models.RecipientSpecLeads, models.RecipientSpecContacts:
	case models.RecipientSpecFilter:
		if spec.Filter == nil {
			return errors.New(errors.ErrCodeInvalidSpec, "filter spec requires a filter predicate")
		}
	case models.RecipientSpecCustom:
		if len(spec.IDs) == 0 {
			return errors.New(errors.ErrCodeInvalidSpec, "custom spec requires an explicit id list")
		}
	default:
		return errors.Newf(errors.ErrCodeInvalidSpec, "unknown recipient spec type: %s", spec.Type)
	}
	return nil
}

// ValidateSteps checks a sequence's step list.
func ValidateSteps(steps []models.SequenceStep) error {
	if len(steps) == 0 {
		return errors.New(errors.ErrCodeValidationFailed, "sequence requires at least one step")
	}
	for i, step := range steps {
		if step.DelayHours < 0 {
			return errors.Newf(errors.ErrCodeValidationFailed, "step %d has a negative delay", i)
		}
		if err := ValidatePayload(step.Payload); err != nil {
			return errors.Wrap(err, errors.ErrCodeValidationFailed, fmt.Sprintf("step %d payload invalid", i))
		}
	}
	return nil
}

// ValidateSendWindow checks HH:MM bounds and the timezone name.
func ValidateSendWindow(w models.SendWindow) error {
	if !w.Enabled() {
		if w.Start != "" || w.End != "" {
			return errors.New(errors.ErrCodeValidationFailed, "send window requires both start and end")
		}
		return nil
	}
	start, err := ParseClock(w.Start)
	if err != nil {
		return err
	}
	end, err := ParseClock(w.End)
	if err != nil {
		return err
	}
	// An end before the start wraps past midnight; equal bounds would leave
	// no instant at which a step may run.
	if start == end {
		return errors.New(errors.ErrCodeValidationFailed, "send window start and end must differ")
	}
	return nil
}

// ParseClock parses an "HH:MM" wall-clock value into minutes since midnight.
func ParseClock(v string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(v, "%d:%d", &h, &m); err != nil {
		return 0, errors.Newf(errors.ErrCodeValidationFailed, "invalid clock value %q, expected HH:MM", v)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, errors.Newf(errors.ErrCodeValidationFailed, "clock value %q out of range", v)
	}
	return h*60 + m, nil
}
