package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/utils/logging"
	"gorm.io/gorm"
)

// Dispatcher delivers account activation messages. Delivery is best effort and callers
// only log failures.
type Dispatcher interface {
	SendActivation(ctx context.Context, user schema.User) error
}

// LogDispatcher writes the activation link to the log instead of mailing it.
type LogDispatcher struct {
	signer  *TokenSigner
	baseUrl string
}

func NewLogDispatcher(signer *TokenSigner, baseUrl string) *LogDispatcher {
	return &LogDispatcher{signer: signer, baseUrl: baseUrl}
}

func (d *LogDispatcher) ActivationLink(user schema.User) (string, error) {
	token, err := d.signer.Sign(user)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/api/v1/users/activate?token=%s", d.baseUrl, url.QueryEscape(token)), nil
}

func (d *LogDispatcher) SendActivation(ctx context.Context, user schema.User) error {
	if user.Email == "" {
		return fmt.Errorf("user %v has no email address", user.Username)
	}

	link, err := d.ActivationLink(user)
	if err != nil {
		return err
	}

	slog.Info("activation link issued", logging.Code(logging.ACTIVATION), "username", user.Username, "expires_in", d.signer.ttl)
	slog.Debug("activation link", logging.Code(logging.ACTIVATION), "username", user.Username, "link", link)
	return nil
}

// Activator confirms email addresses from activation links.
type Activator struct {
	db     *gorm.DB
	signer *TokenSigner
}

func NewActivator(db *gorm.DB, signer *TokenSigner) *Activator {
	return &Activator{db: db, signer: signer}
}

func (a *Activator) Activate(ctx context.Context, token string) (schema.User, error) {
	userId, email, err := a.signer.Verify(token)
	if err != nil {
		return schema.User{}, err
	}

	user, err := schema.GetUser(userId, a.db.WithContext(ctx))
	if err != nil {
		if errors.Is(err, schema.ErrUserNotFound) {
			return schema.User{}, ErrInvalidActivationToken
		}
		return schema.User{}, err
	}

	// The address changed after the link was issued.
	if user.Email != email {
		return schema.User{}, ErrInvalidActivationToken
	}

	result := a.db.WithContext(ctx).Model(&user).Updates(map[string]interface{}{"email_verified": true, "is_active": true})
	if result.Error != nil {
		slog.Error("sql error activating user", "user_id", user.Id, "error", result.Error)
		return schema.User{}, schema.ErrDbAccessFailed
	}
	user.EmailVerified = true
	user.IsActive = true

	slog.Info("email confirmed", logging.Code(logging.ACTIVATION), "user_id", user.Id)
	return user, nil
}
