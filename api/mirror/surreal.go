package mirror

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

const submissionTable = "submissions"

type SurrealConfig struct {
	Url       string
	Namespace string
	Database  string
	Username  string
	Password  string
}

// SurrealStore writes submission documents to SurrealDB, one record per submission.
type SurrealStore struct {
	db *surrealdb.DB
}

func NewSurrealStore(ctx context.Context, cfg SurrealConfig) (*SurrealStore, error) {
	u, err := url.Parse(cfg.Url)
	if err != nil {
		return nil, fmt.Errorf("invalid surrealdb url: %w", err)
	}

	conf := connection.NewConfig(u)
	// time.Time and record ids only round trip through the surrealdb cbor codec.
	codec := surrealcbor.New()
	conf.Marshaler = codec
	conf.Unmarshaler = codec

	db, err := surrealdb.FromConnection(ctx, gorillaws.New(conf))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to surrealdb: %w", err)
	}

	if cfg.Username != "" && cfg.Password != "" {
		if _, err := db.SignIn(ctx, map[string]any{"user": cfg.Username, "pass": cfg.Password}); err != nil {
			db.Close(ctx)
			return nil, fmt.Errorf("failed to authenticate with surrealdb: %w", err)
		}
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to use surrealdb namespace/database: %w", err)
	}

	return &SurrealStore{db: db}, nil
}

func recordId(id uuid.UUID) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(submissionTable, id.String())
}

func (s *SurrealStore) Upsert(ctx context.Context, id uuid.UUID, doc SubmissionDocument) error {
	params := map[string]any{
		"rid": recordId(id),
		"doc": doc,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, "UPSERT $rid CONTENT $doc", params); err != nil {
		return fmt.Errorf("surrealdb upsert failed: %w", err)
	}
	return nil
}

func (s *SurrealStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := surrealdb.Delete[SubmissionDocument](ctx, s.db, recordId(id)); err != nil {
		return fmt.Errorf("surrealdb delete failed: %w", err)
	}
	return nil
}

func (s *SurrealStore) Close() error {
	return s.db.Close(context.Background())
}
