package versions

import (
	"errors"
	"log"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrDuplicateUsernames = errors.New("duplicate normalized usernames")

/*
 * Usernames used to be compared as typed. This adds the lowercased column that the
 * unique index is built on and fills it from the existing rows.
 */
func Migration_1_normalized_usernames(txn *gorm.DB) error {
	log.Println("migrating table 'users'")

	type User struct {
		Id                 uuid.UUID `gorm:"type:uuid;primaryKey"`
		Username           string
		NormalizedUsername string `gorm:"size:150"`
	}

	if !txn.Migrator().HasColumn(&User{}, "NormalizedUsername") {
		if err := txn.Migrator().AddColumn(&User{}, "NormalizedUsername"); err != nil {
			return err
		}
	}

	if err := txn.Model(&User{}).Where("1 = 1").Update("normalized_username", gorm.Expr("LOWER(username)")).Error; err != nil {
		return err
	}

	var duplicates []string
	err := txn.Model(&User{}).
		Group("normalized_username").
		Having("COUNT(*) > 1").
		Pluck("normalized_username", &duplicates).Error
	if err != nil {
		return err
	}
	if len(duplicates) > 0 {
		log.Printf("usernames differing only by case must be renamed before migrating: %v", duplicates)
		return ErrDuplicateUsernames
	}

	// Same name gorm derives from the uniqueIndex tag so later auto-migrations reuse it.
	if err := txn.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_users_normalized_username ON users (normalized_username)").Error; err != nil {
		return err
	}

	log.Println("table 'users' migration complete")

	return nil
}
