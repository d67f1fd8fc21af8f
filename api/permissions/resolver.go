package permissions

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gushil/kobocat/api/schema"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PolicyContext decides whether platform-wide flags may stand in for object grants.
type PolicyContext struct {
	HonorGlobalGrants bool
}

var (
	// Note visibility and note capabilities come from object grants only.
	NotePolicy = PolicyContext{HonorGlobalGrants: false}

	ProfilePolicy = PolicyContext{HonorGlobalGrants: true}
)

func (p PolicyContext) grantsEverything(user schema.User) bool {
	return p.HonorGlobalGrants && !user.IsAnonymous() && user.IsAdmin
}

// SharedData admits forms whose data is published to everyone.
var SharedData clause.Expression = clause.Eq{
	Column: clause.Column{Table: "forms", Name: "shared_data"},
	Value:  true,
}

type Resolver struct {
	db *gorm.DB
}

func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

func checkResourceType(resourceType schema.ResourceType) {
	if !resourceType.Valid() {
		panic(fmt.Sprintf("permissions: unknown resource type %q", resourceType))
	}
}

func (r *Resolver) Capable(ctx context.Context, user schema.User, resource schema.Resource, capability schema.Capability, policy PolicyContext) (bool, error) {
	checkResourceType(resource.Type)

	if user.IsAnonymous() {
		return false, nil
	}
	if policy.grantsEverything(user) {
		return true, nil
	}

	var count int64
	result := r.db.WithContext(ctx).Model(&schema.RoleGrant{}).
		Where("user_id = ? AND resource_type = ? AND resource_id = ? AND capability = ?", user.Id, resource.Type, resource.Id, capability).
		Count(&count)
	if result.Error != nil {
		slog.Error("sql error checking capability", "user_id", user.Id, "resource", resource.String(), "capability", schema.Codename(capability, resource.Type), "error", result.Error)
		return false, schema.ErrDbAccessFailed
	}

	return count > 0, nil
}

func (r *Resolver) grantedResourceIds(ctx context.Context, userId uuid.UUID, resourceType schema.ResourceType, capability schema.Capability) *gorm.DB {
	return r.db.WithContext(ctx).Model(&schema.RoleGrant{}).
		Select("resource_id").
		Where("user_id = ? AND resource_type = ? AND capability = ?", userId, resourceType, capability)
}

// VisibleFormsQuery selects every form the user holds the view capability on, plus every
// form matched by override when it is non-nil. The result can be narrowed or used as a
// sub-query by the caller.
func (r *Resolver) VisibleFormsQuery(ctx context.Context, user schema.User, policy PolicyContext, override clause.Expression) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&schema.Form{})
	if policy.grantsEverything(user) {
		return query
	}

	conditions := []clause.Expression{}
	if !user.IsAnonymous() {
		conditions = append(conditions, clause.Expr{
			SQL:  "forms.id IN (?)",
			Vars: []interface{}{r.grantedResourceIds(ctx, user.Id, schema.FormResource, schema.CapView)},
		})
	}
	if override != nil {
		conditions = append(conditions, override)
	}

	if len(conditions) == 0 {
		return query.Where("1 = 0")
	}
	return query.Where(clause.Or(conditions...))
}

// VisibleForms lazily yields the forms selected by VisibleFormsQuery.
func (r *Resolver) VisibleForms(ctx context.Context, user schema.User, policy PolicyContext, override clause.Expression) iter.Seq2[schema.Form, error] {
	return func(yield func(schema.Form, error) bool) {
		query := r.VisibleFormsQuery(ctx, user, policy, override)
		for form, err := range schema.Stream[schema.Form](query) {
			if !yield(form, err) {
				return
			}
		}
	}
}

// Grant idempotently gives the user each capability on the resource. Pass the enclosing
// transaction as db so grants commit together with the resource.
func Grant(db *gorm.DB, userId uuid.UUID, resource schema.Resource, capabilities ...schema.Capability) error {
	checkResourceType(resource.Type)
	if len(capabilities) == 0 {
		return nil
	}

	grants := make([]schema.RoleGrant, 0, len(capabilities))
	for _, capability := range capabilities {
		grants = append(grants, schema.RoleGrant{
			UserId:       userId,
			ResourceType: resource.Type,
			ResourceId:   resource.Id,
			Capability:   capability,
		})
	}

	result := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&grants)
	if result.Error != nil {
		slog.Error("sql error creating grants", "user_id", userId, "resource", resource.String(), "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}

func GrantAll(db *gorm.DB, userId uuid.UUID, resource schema.Resource) error {
	return Grant(db, userId, resource, schema.AllCapabilities()...)
}

// RevokeAll removes every grant held by anyone on the resource.
func RevokeAll(db *gorm.DB, resource schema.Resource) error {
	checkResourceType(resource.Type)

	result := db.Where("resource_type = ? AND resource_id = ?", resource.Type, resource.Id).Delete(&schema.RoleGrant{})
	if result.Error != nil {
		slog.Error("sql error revoking grants", "resource", resource.String(), "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}
