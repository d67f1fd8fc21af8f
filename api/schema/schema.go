package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Username string `gorm:"size:150;not null"`
	// Lower-cased username, enforces case-insensitive uniqueness at insert time.
	NormalizedUsername string `gorm:"uniqueIndex;size:150;not null"`

	Email         string `gorm:"size:254"`
	EmailVerified bool   `gorm:"not null;default:false"`
	Password      []byte

	FirstName string `gorm:"size:30"`
	LastName  string `gorm:"size:30"`

	IsActive       bool `gorm:"not null;default:false"`
	IsAdmin        bool `gorm:"not null;default:false"`
	IsOrganization bool `gorm:"not null;default:false"`

	CreatedAt time.Time
}

// The zero user stands for an unauthenticated caller.
func (u User) IsAnonymous() bool {
	return u.Id == uuid.Nil
}

func NormalizeUsername(username string) string {
	return strings.ToLower(username)
}

type UserProfile struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	User   *User     `gorm:"constraint:OnDelete:CASCADE"`

	Name         string `gorm:"size:255"`
	City         string `gorm:"size:255"`
	Country      string `gorm:"size:2"`
	Organization string `gorm:"size:255"`
	HomePage     string `gorm:"size:255"`
	Twitter      string `gorm:"size:255"`
	Description  string `gorm:"size:255"`
	Phonenumber  string `gorm:"size:30"`

	RequireAuth bool `gorm:"not null;default:false"`
	Metadata    datatypes.JSON

	CreatedById *uuid.UUID `gorm:"type:uuid"`
	CreatedBy   *User      `gorm:"constraint:OnDelete:SET NULL"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrganizationProfile struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	// The organization's own account.
	UserId uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	User   *User     `gorm:"constraint:OnDelete:CASCADE"`

	Name     string `gorm:"size:255;not null"`
	City     string `gorm:"size:255"`
	Country  string `gorm:"size:2"`
	HomePage string `gorm:"size:255"`
	Twitter  string `gorm:"size:255"`
	Email    string `gorm:"size:254"`

	CreatorId uuid.UUID `gorm:"type:uuid;not null"`
	Creator   *User     `gorm:"constraint:OnDelete:CASCADE"`

	Members []OrganizationMember `gorm:"foreignKey:OrganizationId;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
}

type OrgRole string

const (
	OrgOwner     OrgRole = "owner"
	OrgManager   OrgRole = "manager"
	OrgEditor    OrgRole = "editor"
	OrgDataEntry OrgRole = "dataentry"
	OrgReadOnly  OrgRole = "readonly"
	OrgMember    OrgRole = "member"
)

type OrganizationMember struct {
	OrganizationId uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId         uuid.UUID `gorm:"type:uuid;primaryKey"`

	Role OrgRole `gorm:"size:20;not null;default:'member'"`

	Organization *OrganizationProfile `gorm:"foreignKey:OrganizationId"`
	User         *User                `gorm:"foreignKey:UserId;constraint:OnDelete:CASCADE"`
}

type Form struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	IdString string `gorm:"size:100;not null"`
	Title    string `gorm:"size:255"`

	// Data of a shared form is readable by everyone.
	SharedData bool `gorm:"not null;default:false"`

	OwnerId uuid.UUID `gorm:"type:uuid;not null"`
	Owner   *User     `gorm:"constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
}

type Submission struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	FormId uuid.UUID `gorm:"type:uuid;not null;index"`
	Form   *Form     `gorm:"constraint:OnDelete:CASCADE"`

	Json datatypes.JSON

	Notes []Note `gorm:"constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Note struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	SubmissionId uuid.UUID   `gorm:"type:uuid;not null;index"`
	Submission   *Submission

	Note string `gorm:"type:text;not null"`

	OwnerId *uuid.UUID `gorm:"type:uuid"`
	Owner   *User      `gorm:"constraint:OnDelete:SET NULL"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// A single capability held by a user on one resource.
type RoleGrant struct {
	UserId       uuid.UUID    `gorm:"type:uuid;primaryKey"`
	ResourceType ResourceType `gorm:"size:20;primaryKey"`
	ResourceId   uuid.UUID    `gorm:"type:uuid;primaryKey;index"`
	Capability   Capability   `gorm:"size:20;primaryKey"`

	User *User `gorm:"constraint:OnDelete:CASCADE"`
}

func AllModels() []interface{} {
	return []interface{}{
		&User{}, &UserProfile{}, &OrganizationProfile{}, &OrganizationMember{},
		&Form{}, &Submission{}, &Note{}, &RoleGrant{},
	}
}
