package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrInvalid marks admin input validation failures; the API layer maps it
// to 400 invalidValue.
var ErrInvalid = errors.New("invalid endpoint input")

// Service wraps the store with validation and a small lookup cache. The
// cache is invalidated on every admin mutation; tenant request handling
// tolerates at most one request of staleness.
type Service struct {
	store  Store
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]*Endpoint
}

// NewService creates a new endpoint service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		cache:  make(map[string]*Endpoint),
	}
}

// CreateInput is the admin create payload.
type CreateInput struct {
	Name        string `json:"name" binding:"required"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Config      Config `json:"config"`
	Active      *bool  `json:"active"`
}

// UpdateInput is the admin patch payload; nil fields are left unchanged.
type UpdateInput struct {
	DisplayName *string `json:"displayName"`
	Description *string `json:"description"`
	Config      *Config `json:"config"`
	Active      *bool   `json:"active"`
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*Endpoint, error) {
	if !ValidName(in.Name) {
		return nil, fmt.Errorf("%w: endpoint name %q must match [A-Za-z0-9_-]+", ErrInvalid, in.Name)
	}
	cfg := in.Config
	if cfg == nil {
		cfg = Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	e := &Endpoint{
		Name:        in.Name,
		DisplayName: in.DisplayName,
		Description: in.Description,
		Config:      cfg,
		Active:      true,
	}
	if in.Active != nil {
		e.Active = *in.Active
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, err
	}
	s.logger.Info("endpoint created", zap.String("id", e.ID), zap.String("name", e.Name))
	return e, nil
}

// Lookup resolves an endpoint by id, serving from cache when possible.
func (s *Service) Lookup(ctx context.Context, id string) (*Endpoint, error) {
	s.mu.RLock()
	if e, ok := s.cache[id]; ok {
		s.mu.RUnlock()
		return e, nil
	}
	s.mu.RUnlock()

	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache[id] = e
	s.mu.Unlock()
	return e, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Endpoint, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]Endpoint, error) {
	return s.store.List(ctx)
}

func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*Endpoint, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if in.DisplayName != nil {
		e.DisplayName = *in.DisplayName
	}
	if in.Description != nil {
		e.Description = *in.Description
	}
	if in.Config != nil {
		if err := in.Config.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		e.Config = *in.Config
	}
	if in.Active != nil {
		e.Active = *in.Active
	}
	if err := s.store.Update(ctx, e); err != nil {
		return nil, err
	}
	s.invalidate(id)
	return e, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

func (s *Service) Stats(ctx context.Context, id string) (Stats, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return Stats{}, err
	}
	return s.store.Stats(ctx, id)
}

func (s *Service) invalidate(id string) {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
}
