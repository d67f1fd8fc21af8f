package schema

import (
	"fmt"

	"github.com/google/uuid"
)

type ResourceType string

const (
	FormResource         ResourceType = "form"
	NoteResource         ResourceType = "note"
	ProfileResource      ResourceType = "profile"
	OrganizationResource ResourceType = "organization"
)

func (t ResourceType) Valid() bool {
	switch t {
	case FormResource, NoteResource, ProfileResource, OrganizationResource:
		return true
	}
	return false
}

type Capability string

const (
	CapAdd    Capability = "add"
	CapChange Capability = "change"
	CapDelete Capability = "delete"
	CapView   Capability = "view"
)

func AllCapabilities() []Capability {
	return []Capability{CapAdd, CapChange, CapDelete, CapView}
}

// Resource identifies one object that capabilities can be granted on.
type Resource struct {
	Type ResourceType
	Id   uuid.UUID
}

func (r Resource) String() string {
	return fmt.Sprintf("%s:%s", r.Type, r.Id)
}

func FormRef(id uuid.UUID) Resource         { return Resource{Type: FormResource, Id: id} }
func NoteRef(id uuid.UUID) Resource         { return Resource{Type: NoteResource, Id: id} }
func ProfileRef(id uuid.UUID) Resource      { return Resource{Type: ProfileResource, Id: id} }
func OrganizationRef(id uuid.UUID) Resource { return Resource{Type: OrganizationResource, Id: id} }

// Codename renders a capability the way it is exposed to clients, e.g. "view_profile".
func Codename(capability Capability, resourceType ResourceType) string {
	return fmt.Sprintf("%s_%s", capability, resourceType)
}
