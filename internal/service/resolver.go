package service

import (
	"context"

	"wacampaign/internal/errors"
	"wacampaign/internal/models"
	"wacampaign/internal/privacy"
	"wacampaign/internal/validation"

	"github.com/sirupsen/logrus"
)

// LeadStore reads lead and contact records from the CRM backend.
type LeadStore interface {
	ListLeads(ctx context.Context, tenantID string) ([]models.Lead, error)
	ListContacts(ctx context.Context, tenantID string) ([]models.Lead, error)
	GetLeads(ctx context.Context, tenantID string, ids []string) ([]models.Lead, error)
	FindLeadByPhone(ctx context.Context, tenantID, phone string) (*models.Lead, error)
}

// Resolver turns a recipient spec into a concrete list of canonical phone
// numbers. Numbers that normalize to the same canonical form are deduplicated
// so one person never receives the same broadcast twice.
type Resolver struct {
	leads              LeadStore
	defaultCountryCode string
	logger             *logrus.Logger
}

// NewResolver creates a recipient resolver.
func NewResolver(leads LeadStore, defaultCountryCode string, logger *logrus.Logger) *Resolver {
	return &Resolver{
		leads:              leads,
		defaultCountryCode: defaultCountryCode,
		logger:             logger,
	}
}

// Resolve computes the recipient set for a spec. An empty result is valid;
// callers decide what an empty audience means. Leads without a usable phone
// number are skipped with a warning rather than failing the whole set.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, spec models.RecipientSpec) ([]models.Recipient, error) {
	if err := validation.ValidateRecipientSpec(spec); err != nil {
		return nil, err
	}

	var (
		leads []models.Lead
		err   error
	)
	switch spec.Type {
	case models.RecipientSpecLeads:
		leads, err = r.leads.ListLeads(ctx, tenantID)
	case models.RecipientSpecContacts:
		leads, err = r.leads.ListContacts(ctx, tenantID)
	case models.RecipientSpecFilter:
		leads, err = r.leads.ListLeads(ctx, tenantID)
		if err == nil {
			filtered := leads[:0]
			for _, lead := range leads {
				if spec.Filter.Matches(lead) {
					filtered = append(filtered, lead)
				}
			}
			leads = filtered
		}
	case models.RecipientSpecCustom:
		leads, err = r.leads.GetLeads(ctx, tenantID, spec.IDs)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidSpec, "unknown recipient spec type: %s", spec.Type)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeRecipientResolution, "failed to fetch recipients from CRM")
	}

	seen := make(map[string]struct{}, len(leads))
	recipients := make([]models.Recipient, 0, len(leads))
	for _, lead := range leads {
		phone, err := validation.NormalizePhoneNumber(lead.Phone, r.defaultCountryCode)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"lead_id": privacy.MaskLeadID(lead.ID),
				"phone":   privacy.MaskPhoneNumber(lead.Phone),
			}).Warn("Skipping lead with unusable phone number")
			continue
		}
		if _, dup := seen[phone]; dup {
			continue
		}
		seen[phone] = struct{}{}
		recipients = append(recipients, models.Recipient{
			ID:          lead.ID,
			Phone:       phone,
			DisplayName: lead.Name,
		})
	}
	return recipients, nil
}
