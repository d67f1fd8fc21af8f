package schema

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

const (
	gravatarBaseUrl     = "https://secure.gravatar.com/avatar/"
	defaultAvatarUrl    = "https://ona.io/static/images/default_avatar.png"
	gravatarDefaultSize = 60
)

type ProfileDerivedFields struct {
	IsOrg    bool
	Gravatar string
}

// Requires User to be loaded.
func (p *UserProfile) DerivedFields() ProfileDerivedFields {
	if p.User == nil {
		return ProfileDerivedFields{}
	}
	return ProfileDerivedFields{
		IsOrg:    p.User.IsOrganization,
		Gravatar: GravatarUrl(p.User.Email, gravatarDefaultSize),
	}
}

type OrganizationDerivedFields struct {
	Gravatar string
	// Username to role, from the member list.
	Roles map[string]OrgRole
}

// Requires User and Members.User to be loaded.
func (o *OrganizationProfile) DerivedFields() OrganizationDerivedFields {
	fields := OrganizationDerivedFields{Roles: make(map[string]OrgRole)}
	if o.User != nil {
		fields.Gravatar = GravatarUrl(o.User.Email, gravatarDefaultSize)
	}
	for _, member := range o.Members {
		if member.User != nil {
			fields.Roles[member.User.Username] = member.Role
		}
	}
	return fields
}

func GravatarUrl(email string, size int) string {
	hash := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	params := url.Values{}
	params.Set("d", defaultAvatarUrl)
	params.Set("s", fmt.Sprint(size))
	return gravatarBaseUrl + hex.EncodeToString(hash[:]) + "?" + params.Encode()
}
