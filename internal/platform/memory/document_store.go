package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coursegen/internal/domain"
	"github.com/phrazzld/coursegen/internal/store"
)

// DocumentStore is an in-memory store.DocumentStore.
type DocumentStore struct {
	mu      sync.Mutex
	docs    map[uuid.UUID]*domain.CourseDocument
	byBatch map[uuid.UUID]uuid.UUID
	now     func() time.Time
}

var _ store.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore creates an empty DocumentStore.
func NewDocumentStore(opts ...Option) *DocumentStore {
	o := buildOptions(opts)
	return &DocumentStore{
		docs:    make(map[uuid.UUID]*domain.CourseDocument),
		byBatch: make(map[uuid.UUID]uuid.UUID),
		now:     o.now,
	}
}

// CreateDocument implements store.DocumentStore.
func (s *DocumentStore) CreateDocument(ctx context.Context, doc *domain.CourseDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(doc)
}

func (s *DocumentStore) createLocked(doc *domain.CourseDocument) error {
	if doc.ID == uuid.Nil || doc.Title == "" {
		return fmt.Errorf("%w: document needs an id and a title", store.ErrInvalidEntity)
	}
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("%w: document %s", store.ErrDuplicate, doc.ID)
	}
	if doc.BatchID != nil {
		if _, ok := s.byBatch[*doc.BatchID]; ok {
			return fmt.Errorf("%w: document for batch %s", store.ErrDuplicate, *doc.BatchID)
		}
		s.byBatch[*doc.BatchID] = doc.ID
	}
	s.docs[doc.ID] = cloneDocument(doc)
	return nil
}

// GetDocument implements store.DocumentStore.
func (s *DocumentStore) GetDocument(ctx context.Context, id uuid.UUID) (*domain.CourseDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, store.ErrDocumentNotFound
	}
	return cloneDocument(doc), nil
}

// EnsureBatchDocument implements store.DocumentStore.
func (s *DocumentStore) EnsureBatchDocument(
	ctx context.Context,
	batchID uuid.UUID,
	title string,
) (*domain.CourseDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byBatch[batchID]; ok {
		return cloneDocument(s.docs[id]), nil
	}

	doc, err := domain.NewCourseDocument(title, &batchID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	doc.CreatedAt, doc.UpdatedAt = s.now(), s.now()
	if err := s.createLocked(doc); err != nil {
		return nil, err
	}
	return cloneDocument(doc), nil
}

// EnsureModules implements store.DocumentStore.
func (s *DocumentStore) EnsureModules(ctx context.Context, documentID uuid.UUID, modules []domain.ModuleSkeleton) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[documentID]
	if !ok {
		return store.ErrDocumentNotFound
	}
	for _, m := range modules {
		if doc.Module(m.Key) != nil {
			continue
		}
		doc.Modules = append(doc.Modules, domain.DocumentModule{Key: m.Key, Index: m.Index, Title: m.Title})
	}
	sortModules(doc.Modules)
	doc.UpdatedAt = s.now()
	return nil
}

// MergeSubsection implements store.DocumentStore.
func (s *DocumentStore) MergeSubsection(ctx context.Context, target store.MergeTarget, result domain.SubsectionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[target.DocumentID]
	if !ok {
		return store.ErrDocumentNotFound
	}
	m := doc.Module(target.ModuleKey)
	if m == nil {
		return store.ErrModuleNotFound
	}
	if m.Results == nil {
		m.Results = make(map[uuid.UUID]domain.SubsectionResult)
	}
	m.Results[result.Key] = cloneResult(result)
	doc.UpdatedAt = s.now()
	return nil
}

func cloneDocument(doc *domain.CourseDocument) *domain.CourseDocument {
	c := *doc
	c.BatchID = cloneUUID(doc.BatchID)
	c.Modules = make([]domain.DocumentModule, len(doc.Modules))
	for i, m := range doc.Modules {
		cm := m
		if m.Results != nil {
			cm.Results = make(map[uuid.UUID]domain.SubsectionResult, len(m.Results))
			for k, v := range m.Results {
				cm.Results[k] = cloneResult(v)
			}
		}
		c.Modules[i] = cm
	}
	return &c
}

func cloneResult(r domain.SubsectionResult) domain.SubsectionResult {
	if r.Content.Pages != nil {
		r.Content.Pages = append([]domain.ContentPage(nil), r.Content.Pages...)
	}
	return r
}

func sortModules(modules []domain.DocumentModule) {
	sort.SliceStable(modules, func(i, j int) bool { return modules[i].Index < modules[j].Index })
}
