package registration

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/gushil/kobocat/api/schema"
	"github.com/gushil/kobocat/utils/logging"
)

type KeycloakArgs struct {
	ServerUrl     string
	Realm         string
	ClientId      string
	RedirectUri   string
	AdminUsername string
	AdminPassword string
	// Seconds an emailed action link stays valid.
	Lifespan int
}

// KeycloakDispatcher mirrors new accounts into a Keycloak realm and has Keycloak send the
// email verification message.
type KeycloakDispatcher struct {
	keycloak *gocloak.GoCloak
	args     KeycloakArgs
}

func NewKeycloakDispatcher(args KeycloakArgs) *KeycloakDispatcher {
	return &KeycloakDispatcher{keycloak: gocloak.NewClient(args.ServerUrl), args: args}
}

func isConflict(err error) bool {
	apiErr, ok := err.(*gocloak.APIError)
	return ok && apiErr.Code == http.StatusConflict
}

func pArg[T any](value T) *T {
	p := new(T)
	*p = value
	return p
}

func (d *KeycloakDispatcher) adminToken(ctx context.Context) (string, error) {
	// Admin accounts live in the "master" realm.
	token, err := d.keycloak.LoginAdmin(ctx, d.args.AdminUsername, d.args.AdminPassword, "master")
	if err != nil {
		return "", fmt.Errorf("error during keycloak admin login: %w", err)
	}
	return token.AccessToken, nil
}

func (d *KeycloakDispatcher) ensureUser(ctx context.Context, adminToken string, user schema.User) (string, error) {
	userId, err := d.keycloak.CreateUser(ctx, adminToken, d.args.Realm, gocloak.User{
		Username:      pArg(user.Username),
		Email:         pArg(user.Email),
		FirstName:     pArg(user.FirstName),
		LastName:      pArg(user.LastName),
		Enabled:       pArg(true),
		EmailVerified: pArg(false),
	})
	if err == nil {
		return userId, nil
	}
	if !isConflict(err) {
		return "", fmt.Errorf("error creating keycloak user: %w", err)
	}

	users, err := d.keycloak.GetUsers(ctx, adminToken, d.args.Realm, gocloak.GetUsersParams{
		Username: pArg(user.Username),
		Exact:    pArg(true),
		Max:      pArg(1),
	})
	if err != nil {
		return "", fmt.Errorf("error retrieving keycloak user: %w", err)
	}
	if len(users) != 1 || users[0].ID == nil {
		return "", fmt.Errorf("keycloak reported a conflict for %v but the user was not found", user.Username)
	}
	return *users[0].ID, nil
}

func (d *KeycloakDispatcher) SendActivation(ctx context.Context, user schema.User) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	adminToken, err := d.adminToken(ctx)
	if err != nil {
		return err
	}

	keycloakId, err := d.ensureUser(ctx, adminToken, user)
	if err != nil {
		return err
	}

	err = d.keycloak.ExecuteActionsEmail(ctx, adminToken, d.args.Realm, gocloak.ExecuteActionsEmail{
		UserID:      pArg(keycloakId),
		ClientID:    pArg(d.args.ClientId),
		RedirectURI: pArg(d.args.RedirectUri),
		Lifespan:    pArg(d.args.Lifespan),
		Actions:     &[]string{"VERIFY_EMAIL"},
	})
	if err != nil {
		return fmt.Errorf("error requesting verification email: %w", err)
	}

	slog.Info("keycloak verification email requested", logging.Code(logging.ACTIVATION), "username", user.Username, "keycloak_id", keycloakId)
	return nil
}
