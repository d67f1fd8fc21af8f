package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gushil/kobocat/api/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func echoUser(w http.ResponseWriter, r *http.Request) {
	user, err := UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write([]byte(user.Username))
}

func TestLoginAndMiddlewares(t *testing.T) {
	db := testdb.Open(t)
	var audit bytes.Buffer

	provider, err := NewBasicIdentityProvider(db, NewAuditLogger(&audit), BasicProviderArgs{
		Secret:        []byte("secret"),
		TokenTTL:      time.Minute,
		AdminUsername: "Root",
		AdminEmail:    "root@mail.com",
		AdminPassword: "root_pwd",
	})
	require.NoError(t, err)

	_, err = provider.LoginWithUsername("root", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = provider.LoginWithUsername("nobody", "root_pwd")
	assert.ErrorIs(t, err, ErrUserNotFoundWithUsername)

	login, err := provider.LoginWithUsername("ROOT", "root_pwd")
	require.NoError(t, err)

	r := chi.NewRouter()
	r.With(provider.AuthMiddleware()...).Get("/private", echoUser)
	r.With(provider.OptionalAuthMiddleware()...).Get("/public", echoUser)

	call := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := call("/private", login.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Root", w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, call("/private", "").Code)
	assert.Equal(t, http.StatusUnauthorized, call("/public", "not-a-jwt").Code)

	w = call("/public", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", w.Body.String())

	var entry map[string]interface{}
	lines := bytes.Split(bytes.TrimSpace(audit.Bytes()), []byte("\n"))
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	assert.Equal(t, "anonymous", entry["username"])
	assert.Equal(t, "/public", entry["url"])
}

func TestInactiveUserCannotLogin(t *testing.T) {
	db := testdb.Open(t)
	provider, err := NewBasicIdentityProvider(db, NewAuditLogger(&bytes.Buffer{}), BasicProviderArgs{Secret: []byte("secret")})
	require.NoError(t, err)

	user := testdb.CreateUser(t, db, "sleeper", false)
	hashed, err := bcrypt.GenerateFromPassword([]byte("pwd"), 10)
	require.NoError(t, err)
	require.NoError(t, db.Model(&user).Updates(map[string]interface{}{"password": hashed, "is_active": false}).Error)

	_, err = provider.LoginWithUsername("sleeper", "pwd")
	assert.ErrorIs(t, err, ErrInactiveUser)
}
