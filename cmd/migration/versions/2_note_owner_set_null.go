package versions

import (
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func dropConstraints(model interface{}, txn *gorm.DB, constraints ...string) error {
	for _, constraint := range constraints {
		if !txn.Migrator().HasConstraint(model, constraint) {
			continue
		}
		if err := txn.Migrator().DropConstraint(model, constraint); err != nil {
			return err
		}
	}
	return nil
}

type noteOwner struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`
}

func (noteOwner) TableName() string { return "users" }

// Column layout of notes after this version, must match schema.Note.
type ownedNote struct {
	Id      uuid.UUID  `gorm:"type:uuid;primaryKey"`
	OwnerId *uuid.UUID `gorm:"type:uuid"`
	Owner   *noteOwner `gorm:"constraint:OnDelete:SET NULL"`
}

func (ownedNote) TableName() string { return "notes" }

/*
 * Notes were deleted together with their author. Authorship is now a weak reference,
 * so the column becomes nullable and the foreign key is recreated with ON DELETE SET NULL.
 */
func Migration_2_note_owner_set_null(txn *gorm.DB) error {
	log.Println("migrating table 'notes'")

	if err := dropConstraints(&ownedNote{}, txn, "fk_notes_owner", "notes_owner_id_fkey"); err != nil {
		return err
	}

	if err := txn.Migrator().AlterColumn(&ownedNote{}, "OwnerId"); err != nil {
		return err
	}

	if err := txn.Migrator().CreateConstraint(&ownedNote{}, "Owner"); err != nil {
		return err
	}

	log.Println("table 'notes' migration complete")

	return nil
}
