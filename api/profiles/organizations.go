package profiles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/gushil/kobocat/api/errs"
	"github.com/gushil/kobocat/api/metrics"
	"github.com/gushil/kobocat/api/permissions"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/utils/logging"
	"gorm.io/gorm"
)

type CreateOrganizationRequest struct {
	Org     string `json:"org"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	City    string `json:"city"`
	Country string `json:"country"`
	Website string `json:"website"`
	Twitter string `json:"twitter"`
}

func (m *Manager) validateOrganization(ctx context.Context, fields CreateOrganizationRequest) (errs.ValidationErrors, error) {
	invalid := errs.ValidationErrors{}

	if strings.TrimSpace(fields.Org) == "" {
		invalid.Add("org", "org is required!")
	} else {
		message, err := m.checkAccountName(ctx, fields.Org,
			"organization may only contain alpha-numeric characters and underscores", "Organization %s already exists.")
		if err != nil {
			return nil, err
		}
		if message != "" {
			invalid.Add("org", message)
		}
	}

	if strings.TrimSpace(fields.Name) == "" {
		invalid.Add("name", "name is required!")
	}

	if fields.Email != "" {
		if msg := validateEmail(fields.Email); msg != "" {
			invalid.Add("email", msg)
		}
	}
	if msg := validateCountry(fields.Country); msg != "" {
		invalid.Add("country", msg)
	}

	return invalid, nil
}

// CreateOrganization creates the organization account, its profile and the creator's
// owner membership together. Nothing is stored when any field is rejected.
func (m *Manager) CreateOrganization(ctx context.Context, fields CreateOrganizationRequest, actingUser schema.User) (schema.OrganizationProfile, error) {
	if actingUser.IsAnonymous() {
		return schema.OrganizationProfile{}, errs.Unauthorized("authentication required to create an organization")
	}

	invalid, err := m.validateOrganization(ctx, fields)
	if err != nil {
		return schema.OrganizationProfile{}, err
	}
	if len(invalid) > 0 {
		recordRejected(invalid)
		return schema.OrganizationProfile{}, invalid
	}

	orgUser := schema.User{
		Id:                 uuid.New(),
		Username:           fields.Org,
		NormalizedUsername: schema.NormalizeUsername(fields.Org),
		Email:              fields.Email,
		FirstName:          clampRunes(fields.Name, nameFieldLimit),
		IsActive:           true,
		IsOrganization:     true,
	}

	org := schema.OrganizationProfile{
		Id:        uuid.New(),
		UserId:    orgUser.Id,
		Name:      fields.Name,
		City:      fields.City,
		Country:   fields.Country,
		HomePage:  fields.Website,
		Twitter:   fields.Twitter,
		Email:     fields.Email,
		CreatorId: actingUser.Id,
	}

	err = m.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if result := txn.Create(&orgUser); result.Error != nil {
			if isDuplicate(result.Error) {
				return errs.Conflict("org", fmt.Sprintf("Organization %s already exists.", orgUser.NormalizedUsername), result.Error)
			}
			slog.Error("sql error creating organization account", "org", fields.Org, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		if result := txn.Omit("Members").Create(&org); result.Error != nil {
			slog.Error("sql error creating organization profile", "org", fields.Org, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		owner := schema.OrganizationMember{OrganizationId: org.Id, UserId: actingUser.Id, Role: schema.OrgOwner}
		if result := txn.Create(&owner); result.Error != nil {
			slog.Error("sql error adding organization owner", "org", fields.Org, "user_id", actingUser.Id, "error", result.Error)
			return schema.ErrDbAccessFailed
		}

		return permissions.GrantAll(txn, actingUser.Id, schema.OrganizationRef(org.Id))
	})
	if err != nil {
		return schema.OrganizationProfile{}, fmt.Errorf("error creating organization: %w", err)
	}

	metrics.OrganizationsCreated.Inc()
	slog.Info("organization created", logging.Code(logging.ORG_CREATE), "org", orgUser.Username, "creator_id", actingUser.Id)

	return m.GetOrganization(ctx, orgUser.Username)
}

func (m *Manager) GetOrganization(ctx context.Context, org string) (schema.OrganizationProfile, error) {
	organization, err := schema.GetOrganizationByUsername(org, m.db.WithContext(ctx))
	if err != nil {
		if errors.Is(err, schema.ErrOrganizationNotFound) {
			return organization, errs.NotFound("organization", err)
		}
		return organization, err
	}
	return organization, nil
}
