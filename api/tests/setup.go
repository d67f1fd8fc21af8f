package tests

import (
	"bytes"
	"slices"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gushil/kobocat/api/auth"
	"github.com/gushil/kobocat/api/mirror"
	"github.com/gushil/kobocat/api/registration"
	"github.com/gushil/kobocat/api/services"
	"github.com/gushil/kobocat/api/testdb"
	"gorm.io/gorm"
)

type testEnv struct {
	db         *gorm.DB
	api        chi.Router
	store      *mirror.MemoryStore
	dispatcher *registration.LogDispatcher
}

const (
	adminUsername = "admin123"
	adminEmail    = "admin123@mail.com"
	adminPassword = "admin_password123"
)

func setupTestEnv(t *testing.T) *testEnv {
	db := testdb.Open(t)

	secret := []byte("290zcv02ai249")

	userAuth, err := auth.NewBasicIdentityProvider(
		db,
		auth.NewAuditLogger(new(bytes.Buffer)),
		auth.BasicProviderArgs{
			Secret:        secret,
			AdminUsername: adminUsername,
			AdminEmail:    adminEmail,
			AdminPassword: adminPassword,
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	store := mirror.NewMemoryStore()
	signer := registration.NewTokenSigner(slices.Concat(secret, []byte("activation")), time.Hour)
	dispatcher := registration.NewLogDispatcher(signer, "http://localhost:8000")

	kobocat := services.NewKobocatApi(db, userAuth, services.Dependencies{
		Mirror:     mirror.NewSubmissionMirror(db, store),
		Dispatcher: dispatcher,
		Activator:  registration.NewActivator(db, signer),
	})

	return &testEnv{db: db, api: kobocat.Routes(), store: store, dispatcher: dispatcher}
}

func (t *testEnv) newClient() client {
	return client{api: t.api}
}

func (t *testEnv) newUser(username string) (client, error) {
	c := t.newClient()
	login, err := c.signup(username, username+"@mail.com", username+"_password")
	if err != nil {
		return client{}, err
	}

	err = c.login(login)
	if err != nil {
		return client{}, err
	}

	return c, nil
}

func (t *testEnv) adminClient() (client, error) {
	c := t.newClient()
	err := c.login(loginInfo{Username: adminUsername, Password: adminPassword})
	return c, err
}
