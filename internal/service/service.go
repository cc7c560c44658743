// Package service exposes the preparation operations: chain edits, head
// moves, previews and edit locks over one store.
//
// Writes to a preparation's head are serialized per preparation inside the
// process and guarded by a compare-and-swap in the store across processes.
// The user-facing edit lock is checked on every write but is not what keeps
// concurrent rebases from losing updates.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/prepchain/internal/action"
	"github.com/roach88/prepchain/internal/chain"
	"github.com/roach88/prepchain/internal/dataset"
	"github.com/roach88/prepchain/internal/headguard"
	"github.com/roach88/prepchain/internal/ir"
	"github.com/roach88/prepchain/internal/lock"
	"github.com/roach88/prepchain/internal/preview"
	"github.com/roach88/prepchain/internal/rebase"
	"github.com/roach88/prepchain/internal/store"
)

// Config wires a Service. Store and Datasets are required.
type Config struct {
	Store    store.Repository
	Datasets dataset.Source
	// Registry compiles and validates actions. Nil uses the built-in
	// catalog over Datasets.
	Registry *action.Registry

	// LockTTL is the edit-lock expiry; zero keeps locks until released.
	LockTTL time.Duration

	SampleSize     int
	PreviewTimeout time.Duration

	IDs    IDGenerator
	Now    func() time.Time
	Logger *slog.Logger
}

// Service is safe for concurrent use.
type Service struct {
	store    store.Repository
	datasets dataset.Source
	registry *action.Registry
	chain    *chain.Chain
	replayer *rebase.Replayer
	locks    *lock.Manager
	guard    *headguard.Validator
	preview  *preview.Engine
	ids      IDGenerator
	now      func() time.Time
	logger   *slog.Logger

	heads keyedMutex
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil || cfg.Datasets == nil {
		return nil, errors.New("service: store and datasets are required")
	}
	if cfg.Registry == nil {
		cfg.Registry = action.NewBuiltinRegistry(action.Env{Datasets: cfg.Datasets})
	}
	if cfg.IDs == nil {
		cfg.IDs = UUIDv7Generator{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := chain.New(cfg.Store, chain.WithClock(cfg.Now), chain.WithLogger(cfg.Logger))
	return &Service{
		store:    cfg.Store,
		datasets: cfg.Datasets,
		registry: cfg.Registry,
		chain:    c,
		replayer: rebase.NewReplayer(c),
		locks:    lock.NewManager(cfg.Store, lock.Config{TTL: cfg.LockTTL, Now: cfg.Now, Logger: cfg.Logger}),
		guard:    headguard.New(c, cfg.Datasets, cfg.Registry.DatasetParams(), cfg.Logger),
		preview: preview.New(cfg.Registry, cfg.Datasets, preview.Config{
			SampleSize: cfg.SampleSize,
			Timeout:    cfg.PreviewTimeout,
			Logger:     cfg.Logger,
		}),
		ids:    cfg.IDs,
		now:    cfg.Now,
		logger: cfg.Logger,
	}, nil
}

// Registry returns the action registry the service validates against.
func (s *Service) Registry() *action.Registry {
	return s.registry
}

// CreateChain returns the origin step id for datasetID, creating the origin
// on first use.
func (s *Service) CreateChain(ctx context.Context, datasetID, userID string) (string, error) {
	origin, err := s.chain.CreateOrigin(ctx, datasetID, userID)
	if err != nil {
		return "", err
	}
	return origin.ID, nil
}

// CreatePreparation creates an empty preparation on datasetID, headed at
// the dataset's origin.
func (s *Service) CreatePreparation(ctx context.Context, datasetID, name, owner string) (prep ir.Preparation, err error) {
	ctx, span := tracer.Start(ctx, "service.CreatePreparation", trace.WithAttributes(attribute.String("dataset.id", datasetID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(name) == "" {
		return ir.Preparation{}, errors.New("create preparation: name is required")
	}
	ok, err := s.datasets.Exists(ctx, datasetID)
	if err != nil {
		return ir.Preparation{}, ir.NewDatasetUnavailable(datasetID, err)
	}
	if !ok {
		return ir.Preparation{}, ir.NewDatasetUnavailable(datasetID, dataset.ErrNotFound)
	}

	originID, err := s.CreateChain(ctx, datasetID, owner)
	if err != nil {
		return ir.Preparation{}, err
	}
	now := s.now().UTC()
	prep = ir.Preparation{
		ID:        s.ids.Generate(),
		DatasetID: datasetID,
		Head:      originID,
		Name:      name,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreatePreparation(ctx, prep); err != nil {
		return ir.Preparation{}, fmt.Errorf("create preparation: %w", err)
	}
	s.logger.Info("preparation created", "preparation_id", prep.ID, "dataset_id", datasetID, "owner", owner)
	return prep, nil
}

// CopyPreparation creates a new preparation on the source's dataset whose
// head is the source's current head. No step is written: both envelopes
// point at the same chain until one of them is edited. An empty newName
// keeps the source's name. The source is left untouched, lock included.
func (s *Service) CopyPreparation(ctx context.Context, sourceID, newName, owner string) (prep ir.Preparation, err error) {
	ctx, span := tracer.Start(ctx, "service.CopyPreparation", trace.WithAttributes(attribute.String("preparation.source", sourceID)))
	defer func() { endSpan(span, err) }()

	src, err := s.GetPreparation(ctx, sourceID)
	if err != nil {
		return ir.Preparation{}, err
	}
	if strings.TrimSpace(newName) == "" {
		newName = src.Name
	}
	if err := s.checkHead(ctx, sourceID, src.Head); err != nil {
		return ir.Preparation{}, err
	}

	now := s.now().UTC()
	prep = ir.Preparation{
		ID:        s.ids.Generate(),
		DatasetID: src.DatasetID,
		Head:      src.Head,
		Name:      newName,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreatePreparation(ctx, prep); err != nil {
		return ir.Preparation{}, fmt.Errorf("copy preparation: %w", err)
	}
	s.logger.Info("preparation copied",
		"preparation_id", prep.ID,
		"source_id", sourceID,
		"head", prep.Head,
		"owner", owner)
	return prep, nil
}

// GetPreparation returns PreparationNotFound for unknown ids.
func (s *Service) GetPreparation(ctx context.Context, prepID string) (ir.Preparation, error) {
	prep, err := s.store.GetPreparation(ctx, prepID)
	if errors.Is(err, store.ErrNotFound) {
		return ir.Preparation{}, ir.NewPreparationNotFound(prepID)
	}
	if err != nil {
		return ir.Preparation{}, fmt.Errorf("get preparation %s: %w", prepID, err)
	}
	return prep, nil
}

// ListPreparations lists preparations, optionally only those on datasetID.
func (s *Service) ListPreparations(ctx context.Context, datasetID string) ([]ir.Preparation, error) {
	return s.store.ListPreparations(ctx, datasetID)
}

// RenamePreparation changes the display name.
func (s *Service) RenamePreparation(ctx context.Context, prepID, name, userID string) (ir.Preparation, error) {
	if strings.TrimSpace(name) == "" {
		return ir.Preparation{}, errors.New("rename preparation: name is required")
	}
	prep, err := s.GetPreparation(ctx, prepID)
	if err != nil {
		return ir.Preparation{}, err
	}
	if err := s.locks.CheckWriter(prep, userID); err != nil {
		return ir.Preparation{}, err
	}
	if err := s.store.RenamePreparation(ctx, prepID, name, s.now().UTC()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ir.Preparation{}, ir.NewPreparationNotFound(prepID)
		}
		return ir.Preparation{}, fmt.Errorf("rename preparation: %w", err)
	}
	return s.GetPreparation(ctx, prepID)
}

// DeletePreparation removes the envelope. Its steps stay in storage: other
// preparations may share them.
func (s *Service) DeletePreparation(ctx context.Context, prepID, userID string) error {
	unlock := s.heads.lock(prepID)
	defer unlock()

	prep, err := s.GetPreparation(ctx, prepID)
	if err != nil {
		return err
	}
	if err := s.locks.CheckWriter(prep, userID); err != nil {
		return err
	}
	if err := s.locks.Release(ctx, prepID, userID); err != nil {
		return err
	}
	if err := s.store.DeletePreparation(ctx, prepID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ir.NewPreparationNotFound(prepID)
		}
		return fmt.Errorf("delete preparation: %w", err)
	}
	s.logger.Info("preparation deleted", "preparation_id", prepID, "user", userID)
	return nil
}

// ListSteps returns the head path, origin first.
func (s *Service) ListSteps(ctx context.Context, prepID string) ([]ir.Step, error) {
	prep, err := s.GetPreparation(ctx, prepID)
	if err != nil {
		return nil, err
	}
	return s.chain.Ancestors(ctx, prep.Head)
}

// GetStep returns any stored step, on a live chain or not.
func (s *Service) GetStep(ctx context.Context, stepID string) (ir.Step, error) {
	return s.chain.Get(ctx, stepID)
}

// ResolveActions returns the actions from the origin to ref, which is
// ir.HeadRef or a step on the preparation's head path.
func (s *Service) ResolveActions(ctx context.Context, prepID, ref string) ([]ir.Action, error) {
	prep, err := s.GetPreparation(ctx, prepID)
	if err != nil {
		return nil, err
	}
	return s.chain.ResolveActions(ctx, prep, ref)
}

// Lock acquires or refreshes the edit lock for userID.
func (s *Service) Lock(ctx context.Context, prepID, userID string) (ir.Lock, error) {
	l, err := s.locks.Acquire(ctx, prepID, userID)
	if ir.IsCode(err, ir.CodeConcurrentEditConflict) {
		lockConflicts.Inc()
	}
	return l, err
}

// LockExpiry reports when l lapses unless refreshed; ok is false when
// locks are kept until released.
func (s *Service) LockExpiry(l ir.Lock) (at time.Time, ok bool) {
	return s.locks.ExpiresAt(l)
}

// Unlock releases userID's lock; a lock held by someone else is left
// alone without error.
func (s *Service) Unlock(ctx context.Context, prepID, userID string) error {
	if _, err := s.GetPreparation(ctx, prepID); err != nil {
		return err
	}
	return s.locks.Release(ctx, prepID, userID)
}

// setHead moves prep's head with a compare-and-swap against the head it
// was read with and returns the updated preparation.
func (s *Service) setHead(ctx context.Context, prep ir.Preparation, next string) (ir.Preparation, error) {
	err := s.store.CompareAndSetHead(ctx, prep.ID, prep.Head, next, s.now().UTC())
	switch {
	case errors.Is(err, store.ErrHeadMismatch):
		return ir.Preparation{}, &ir.Error{
			Code:          ir.CodeStaleHead,
			Message:       fmt.Sprintf("head moved away from %s", prep.Head),
			PreparationID: prep.ID,
			StepID:        next,
		}
	case errors.Is(err, store.ErrNotFound):
		return ir.Preparation{}, ir.NewPreparationNotFound(prep.ID)
	case err != nil:
		return ir.Preparation{}, fmt.Errorf("set head: %w", err)
	}
	return s.GetPreparation(ctx, prep.ID)
}

// writable loads prep for a write by userID.
func (s *Service) writable(ctx context.Context, prepID, userID string) (ir.Preparation, error) {
	prep, err := s.GetPreparation(ctx, prepID)
	if err != nil {
		return ir.Preparation{}, err
	}
	if err := s.locks.CheckWriter(prep, userID); err != nil {
		lockConflicts.Inc()
		return ir.Preparation{}, err
	}
	return prep, nil
}
