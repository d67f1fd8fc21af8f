package services

import (
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gushil/kobocat/api/auth"
	"github.com/gushil/kobocat/api/mirror"
	"github.com/gushil/kobocat/api/notes"
	"github.com/gushil/kobocat/api/permissions"
	"github.com/gushil/kobocat/api/profiles"
	"github.com/gushil/kobocat/api/registration"
	"github.com/gushil/kobocat/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type KobocatApi struct {
	user    UserService
	note    NoteService
	profile ProfileService
	org     OrganizationService
	form    FormService
}

type Dependencies struct {
	Mirror     mirror.Mirror
	Dispatcher registration.Dispatcher
	Activator  *registration.Activator
	Reserved   profiles.ReservedNames
}

func NewKobocatApi(db *gorm.DB, userAuth auth.IdentityProvider, deps Dependencies) KobocatApi {
	resolver := permissions.NewResolver(db)
	profileManager := profiles.NewManager(db, resolver, deps.Dispatcher, deps.Reserved)
	noteManager := notes.NewManager(db, resolver, deps.Mirror)

	return KobocatApi{
		user:    UserService{profiles: profileManager, activator: deps.Activator, userAuth: userAuth},
		note:    NoteService{notes: noteManager, userAuth: userAuth},
		profile: ProfileService{profiles: profileManager, resolver: resolver, userAuth: userAuth},
		org:     OrganizationService{profiles: profileManager, userAuth: userAuth},
		form:    FormService{db: db, resolver: resolver, mirror: deps.Mirror, userAuth: userAuth},
	}
}

func (k *KobocatApi) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: true,
	}))

	r.Mount("/users", k.user.Routes())
	r.Mount("/notes", k.note.Routes())
	r.Mount("/profiles", k.profile.Routes())
	r.Mount("/orgs", k.org.Routes())
	r.Mount("/forms", k.form.Routes())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
