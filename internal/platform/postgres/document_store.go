package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/platform/logger"
	"github.com/phrazzld/coursegen/internal/store"
)

// PostgresDocumentStore implements the store.DocumentStore interface
// using a PostgreSQL database as the storage backend.
//
// Each module's merged subsections live in one JSONB object keyed by
// subsection key. A merge is a single UPDATE of that module row, so
// concurrent merges into sibling subsections serialize on the row lock and
// never overwrite each other.
type PostgresDocumentStore struct {
	db     store.DBTX
	sqlDB  *sql.DB
	now    func() time.Time
	logger *slog.Logger
}

// Ensure PostgresDocumentStore implements store.DocumentStore interface
var _ store.DocumentStore = (*PostgresDocumentStore)(nil)

// NewPostgresDocumentStore creates a new PostgreSQL implementation of the DocumentStore interface.
// If logger is nil, a default logger will be used.
func NewPostgresDocumentStore(db store.DBTX, logger *slog.Logger, opts ...Option) *PostgresDocumentStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	sqlDB, _ := db.(*sql.DB)
	return &PostgresDocumentStore{
		db:     db,
		sqlDB:  sqlDB,
		now:    buildOptions(opts).now,
		logger: logger.With(slog.String("component", "document_store")),
	}
}

// CreateDocument implements store.DocumentStore.CreateDocument
func (s *PostgresDocumentStore) CreateDocument(ctx context.Context, doc *domain.CourseDocument) error {
	if doc.ID == uuid.Nil || doc.Title == "" {
		return fmt.Errorf("%w: document needs an id and a title", store.ErrInvalidEntity)
	}

	return withTx(ctx, s.sqlDB, s.db, func(db store.DBTX) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO course_documents (id, batch_id, title, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, doc.ID, nullUUID(doc.BatchID), doc.Title, doc.CreatedAt, doc.UpdatedAt)
		if err != nil {
			return MapError(err)
		}

		for _, m := range doc.Modules {
			results, err := marshalResults(m.Results)
			if err != nil {
				return err
			}
			_, err = db.ExecContext(ctx, `
				INSERT INTO document_modules (document_id, module_key, module_index, title, results, updated_at)
				VALUES ($1, $2, $3, $4, $5::jsonb, $6)
			`, doc.ID, m.Key, m.Index, m.Title, results, doc.UpdatedAt)
			if err != nil {
				return MapError(err)
			}
		}
		return nil
	})
}

// GetDocument implements store.DocumentStore.GetDocument
func (s *PostgresDocumentStore) GetDocument(ctx context.Context, id uuid.UUID) (*domain.CourseDocument, error) {
	return s.load(ctx, `WHERE id = $1`, id)
}

// EnsureBatchDocument implements store.DocumentStore.EnsureBatchDocument
// Concurrent callers race on the unique batch_id; the loser reads the
// winner's row.
func (s *PostgresDocumentStore) EnsureBatchDocument(
	ctx context.Context,
	batchID uuid.UUID,
	title string,
) (*domain.CourseDocument, error) {
	doc, err := domain.NewCourseDocument(title, &batchID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO course_documents (id, batch_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (batch_id) DO NOTHING
	`, doc.ID, batchID, title, now)
	if err != nil {
		return nil, MapError(err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logger.FromContextOrDefault(ctx, s.logger).Info("batch document created",
			slog.String("document_id", doc.ID.String()),
			slog.String("batch_id", batchID.String()))
	}

	return s.load(ctx, `WHERE batch_id = $1`, batchID)
}

// EnsureModules implements store.DocumentStore.EnsureModules
func (s *PostgresDocumentStore) EnsureModules(
	ctx context.Context,
	documentID uuid.UUID,
	modules []domain.ModuleSkeleton,
) error {
	now := s.now()
	return withTx(ctx, s.sqlDB, s.db, func(db store.DBTX) error {
		if err := documentExists(ctx, db, documentID); err != nil {
			return err
		}
		for _, m := range modules {
			_, err := db.ExecContext(ctx, `
				INSERT INTO document_modules (document_id, module_key, module_index, title, updated_at)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (document_id, module_key) DO NOTHING
			`, documentID, m.Key, m.Index, m.Title, now)
			if err != nil {
				return MapError(err)
			}
		}
		return nil
	})
}

// MergeSubsection implements store.DocumentStore.MergeSubsection
func (s *PostgresDocumentStore) MergeSubsection(
	ctx context.Context,
	target store.MergeTarget,
	result domain.SubsectionResult,
) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("%w: encode subsection result: %v", store.ErrInvalidEntity, err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE document_modules
		SET results = results || jsonb_build_object($3::text, $4::jsonb),
		    updated_at = $5
		WHERE document_id = $1 AND module_key = $2
	`, target.DocumentID, target.ModuleKey, result.Key.String(), string(payload), s.now())
	if err != nil {
		return MapError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		if err := documentExists(ctx, s.db, target.DocumentID); err != nil {
			return err
		}
		return store.ErrModuleNotFound
	}
	return nil
}

func documentExists(ctx context.Context, db store.DBTX, id uuid.UUID) error {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM course_documents WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return MapError(err)
	}
	if !exists {
		return store.ErrDocumentNotFound
	}
	return nil
}

// load reads one document selected by where and its modules in order.
func (s *PostgresDocumentStore) load(ctx context.Context, where string, arg any) (*domain.CourseDocument, error) {
	var doc domain.CourseDocument
	var batchID uuid.NullUUID

	err := s.db.QueryRowContext(ctx, `
		SELECT id, batch_id, title, created_at, updated_at
		FROM course_documents `+where, arg,
	).Scan(&doc.ID, &batchID, &doc.Title, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrDocumentNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	doc.BatchID = uuidPtr(batchID)

	rows, err := s.db.QueryContext(ctx, `
		SELECT module_key, module_index, title, results
		FROM document_modules
		WHERE document_id = $1
		ORDER BY module_index, title
	`, doc.ID)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	doc.Modules = []domain.DocumentModule{}
	for rows.Next() {
		var m domain.DocumentModule
		var results []byte
		if err := rows.Scan(&m.Key, &m.Index, &m.Title, &results); err != nil {
			return nil, fmt.Errorf("failed to scan document module: %w", err)
		}
		if err := json.Unmarshal(results, &m.Results); err != nil {
			return nil, fmt.Errorf("failed to decode results of module %s: %w", m.Key, err)
		}
		if len(m.Results) == 0 {
			m.Results = nil
		}
		doc.Modules = append(doc.Modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func marshalResults(results map[uuid.UUID]domain.SubsectionResult) (string, error) {
	if len(results) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("%w: encode results: %v", store.ErrInvalidEntity, err)
	}
	return string(b), nil
}
