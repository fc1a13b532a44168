package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPhoneNumber(t *testing.T) {
	tests := []struct {
		name     string
		phone    string
		expected string
	}{
		{"canonical number", "919876543210", "********3210"},
		{"with plus prefix", "+919876543210", "+********3210"},
		{"short with plus", "+1234", "+****"},
		{"short without plus", "1234", "****"},
		{"very short", "12", "**"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskPhoneNumber(tt.phone))
		})
	}
}

func TestMaskProviderMessageID(t *testing.T) {
	assert.Equal(t, "**********3EB0C767", MaskProviderMessageID("wamid.HBgL3EB0C767"))
	assert.Equal(t, "****", MaskProviderMessageID("abcd"))
	assert.Equal(t, "", MaskProviderMessageID(""))
}

func TestMaskLeadID(t *testing.T) {
	assert.Equal(t, "*********f567", MaskLeadID("lead-abcdf567"))
	assert.Equal(t, "***", MaskLeadID("abc"))
	assert.Equal(t, "", MaskLeadID(""))
}
