package profiles

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/gushil/kobocat/api/errs"
	"github.com/gushil/kobocat/api/schema"
	"gopkg.in/yaml.v3"
)

type UpdateMode int

const (
	Full UpdateMode = iota
	Partial
)

func (m UpdateMode) String() string {
	if m == Partial {
		return "partial"
	}
	return "full"
}

var legalUsername = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

const maxUsernameLength = 150

var defaultReservedNames = []string{
	"about", "accounts", "admin", "api", "clients", "crowdform", "crowdforms",
	"data", "formid-media", "forms", "login", "logout", "main", "media", "mongo",
	"odk", "profile", "public", "submission", "submissionlist", "support",
	"syntax", "viewer", "xls2xform", "xlsform", "xlsform2xform",
}

// ReservedNames holds lower-cased names no user or organization may take.
type ReservedNames map[string]struct{}

func DefaultReservedNames() ReservedNames {
	names := ReservedNames{}
	names.add(defaultReservedNames...)
	return names
}

func (r ReservedNames) add(names ...string) {
	for _, name := range names {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			r[name] = struct{}{}
		}
	}
}

func (r ReservedNames) Contains(name string) bool {
	_, ok := r[strings.ToLower(name)]
	return ok
}

type reservedNamesFile struct {
	ReservedUsernames []string `yaml:"reserved_usernames"`
}

// LoadReservedNames extends the default list with the names in a yaml file of the form
// "reserved_usernames: [...]".
func LoadReservedNames(path string) (ReservedNames, error) {
	names := DefaultReservedNames()
	if path == "" {
		return names, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading reserved names file: %w", err)
	}

	var file reservedNamesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing reserved names file %v: %w", path, err)
	}
	names.add(file.ReservedUsernames...)

	return names, nil
}

// checkAccountName applies the naming rules shared by users and organizations and
// returns the message for the first rule the name breaks.
func (m *Manager) checkAccountName(ctx context.Context, name, illegalMessage, existsFormat string) (string, error) {
	lowered := schema.NormalizeUsername(name)

	if m.reserved.Contains(lowered) {
		return fmt.Sprintf("%s is a reserved name, please choose another", lowered), nil
	}
	if !legalUsername.MatchString(lowered) {
		return illegalMessage, nil
	}
	if len(lowered) > maxUsernameLength {
		return fmt.Sprintf("Ensure this field has no more than %d characters.", maxUsernameLength), nil
	}

	taken, err := schema.UsernameTaken(lowered, m.db.WithContext(ctx))
	if err != nil {
		return "", err
	}
	if taken {
		return fmt.Sprintf(existsFormat, lowered), nil
	}
	return "", nil
}

// ValidateUsername checks a username for a new account. Partial updates never change
// the username, so the candidate is returned untouched without checks.
func (m *Manager) ValidateUsername(ctx context.Context, candidate string, mode UpdateMode) (string, error) {
	if mode == Partial {
		return candidate, nil
	}

	message, err := m.checkAccountName(ctx, candidate,
		"username may only contain alpha-numeric characters and underscores", "%s already exists")
	if err != nil {
		return "", err
	}
	if message != "" {
		return "", errs.Invalid("username", message)
	}
	return candidate, nil
}
