package ship

import (
	"context"
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/harborward/theseus-go/core/es"
	"github.com/harborward/theseus-go/core/perkey"
)

// Service is the command side of the ship domain. Commands against the same
// ship are serialized locally (so one process rarely conflicts with itself);
// conflicts with other writers surface as ErrConcurrencyConflict and are
// retried with the command rebuilt from freshly loaded state.
type Service struct {
	log   *slog.Logger
	repo  es.TypedRepository[*Ship]
	sched *perkey.Scheduler[string]
	retry []es.RetryOption
}

func NewService(log *slog.Logger, env *es.Env, retryOpts ...es.RetryOption) *Service {
	return &Service{
		log:   log.With(slog.String("component", "ship_service")),
		repo:  es.TypedRepo[*Ship](env),
		sched: perkey.New[string](),
		retry: retryOpts,
	}
}

// Close stops the per-ship command workers.
func (s *Service) Close() { s.sched.Close() }

// Launch creates a new ship and returns its id.
func (s *Service) Launch(ctx context.Context, name string, hull []Plank) (string, error) {
	id := gonanoid.Must()
	err := s.sched.DoContext(ctx, id, func() error {
		ship := s.repo.NewWithID(id)
		if err := ship.Launch(name, hull); err != nil {
			return err
		}
		return s.repo.Save(ctx, ship)
	})
	if err != nil {
		return "", err
	}
	s.log.Info("launched", slog.String("ship_id", id), slog.String("name", name))
	return id, nil
}

// ReplacePlank swaps one hull plank on an existing ship.
func (s *Service) ReplacePlank(ctx context.Context, shipID string, index int, p Plank) error {
	return s.execute(ctx, shipID, func(ship *Ship) error {
		return ship.ReplacePlank(index, p)
	})
}

// Inspect records a hull inspection.
func (s *Service) Inspect(ctx context.Context, shipID, notes string) error {
	return s.execute(ctx, shipID, func(ship *Ship) error {
		return ship.Inspect(notes)
	})
}

// Archive retires a ship for good.
func (s *Service) Archive(ctx context.Context, shipID, reason string) error {
	return s.execute(ctx, shipID, func(ship *Ship) error {
		return ship.Archive(reason)
	})
}

// Get loads the current write-model state of a ship.
func (s *Service) Get(ctx context.Context, shipID string) (*Ship, error) {
	return s.repo.GetByID(ctx, shipID)
}

// execute runs one command load-decide-save. Each retry attempt reloads, so
// the decision always runs against the version the save will be checked
// against.
func (s *Service) execute(ctx context.Context, shipID string, cmd func(*Ship) error) error {
	return s.sched.DoContext(ctx, shipID, func() error {
		return es.Retry(ctx, func(ctx context.Context) error {
			ship, err := s.repo.GetByID(ctx, shipID)
			if err != nil {
				return err
			}
			if err := cmd(ship); err != nil {
				return err
			}
			return s.repo.Save(ctx, ship)
		}, s.retry...)
	})
}
