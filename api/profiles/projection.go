package profiles

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gushil/kobocat/api/permissions"
	"github.com/gushil/kobocat/api/schema"
)

// ProfileRepresentation is the client view of a user profile. It has no password field,
// and Email is only set for viewers allowed to see it.
type ProfileRepresentation struct {
	Id           uuid.UUID       `json:"id"`
	IsOrg        bool            `json:"is_org"`
	Username     string          `json:"username"`
	Name         string          `json:"name"`
	Email        *string         `json:"email,omitempty"`
	City         string          `json:"city"`
	Country      string          `json:"country"`
	Organization string          `json:"organization"`
	Website      string          `json:"website"`
	Twitter      string          `json:"twitter"`
	Gravatar     string          `json:"gravatar"`
	RequireAuth  bool            `json:"require_auth"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// Requires profile.User to be loaded.
func RepresentProfile(profile schema.UserProfile, showEmail bool) ProfileRepresentation {
	derived := profile.DerivedFields()

	rep := ProfileRepresentation{
		Id:           profile.UserId,
		IsOrg:        derived.IsOrg,
		Name:         profile.Name,
		City:         profile.City,
		Country:      profile.Country,
		Organization: profile.Organization,
		Website:      profile.HomePage,
		Twitter:      profile.Twitter,
		Gravatar:     derived.Gravatar,
		RequireAuth:  profile.RequireAuth,
	}
	if len(profile.Metadata) > 0 {
		rep.Metadata = json.RawMessage(profile.Metadata)
	}
	if profile.User != nil {
		rep.Username = profile.User.Username
		if showEmail {
			email := profile.User.Email
			rep.Email = &email
		}
	}
	return rep
}

// ProjectProfile renders the profile for viewer. Anonymous viewers and viewers without
// the view capability on the profile never see the email address.
func (m *Manager) ProjectProfile(ctx context.Context, profile schema.UserProfile, viewer schema.User) (ProfileRepresentation, error) {
	showEmail := false
	if !viewer.IsAnonymous() {
		capable, err := m.resolver.Capable(ctx, viewer, schema.ProfileRef(profile.Id), schema.CapView, permissions.ProfilePolicy)
		if err != nil {
			return ProfileRepresentation{}, err
		}
		showEmail = capable
	}
	return RepresentProfile(profile, showEmail), nil
}

type MemberRepresentation struct {
	User string         `json:"user"`
	Role schema.OrgRole `json:"role"`
}

type OrganizationRepresentation struct {
	Id       uuid.UUID              `json:"id"`
	Org      string                 `json:"org"`
	Name     string                 `json:"name"`
	Email    string                 `json:"email"`
	City     string                 `json:"city"`
	Country  string                 `json:"country"`
	Website  string                 `json:"website"`
	Twitter  string                 `json:"twitter"`
	Gravatar string                 `json:"gravatar"`
	Creator  uuid.UUID              `json:"creator"`
	Users    []MemberRepresentation `json:"users"`
}

// Requires User and Members.User to be loaded.
func RepresentOrganization(org schema.OrganizationProfile) OrganizationRepresentation {
	derived := org.DerivedFields()

	rep := OrganizationRepresentation{
		Id:       org.UserId,
		Name:     org.Name,
		Email:    org.Email,
		City:     org.City,
		Country:  org.Country,
		Website:  org.HomePage,
		Twitter:  org.Twitter,
		Gravatar: derived.Gravatar,
		Creator:  org.CreatorId,
		Users:    make([]MemberRepresentation, 0, len(org.Members)),
	}
	if org.User != nil {
		rep.Org = org.User.Username
	}
	for _, member := range org.Members {
		if member.User == nil {
			continue
		}
		rep.Users = append(rep.Users, MemberRepresentation{User: member.User.Username, Role: derived.Roles[member.User.Username]})
	}
	return rep
}
