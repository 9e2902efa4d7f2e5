package cli

import (
	"fmt"

	"github.com/corral-io/corral/internal/destroy"
	"github.com/corral-io/corral/internal/library"
	"github.com/corral-io/corral/internal/lifecycle"
	"github.com/corral-io/corral/internal/lock"
	"github.com/corral-io/corral/internal/operation"
	"github.com/corral-io/corral/internal/pubsub"
	"github.com/corral-io/corral/internal/reconcile"
	"github.com/corral-io/corral/internal/resolver"
	"github.com/corral-io/corral/internal/store"
	"github.com/corral-io/corral/internal/unlock"
)

// app wires the configured services together for one command invocation.
type app struct {
	store      *store.Store
	bus        *pubsub.Bus
	locks      *lock.Service
	reconciler *reconcile.Reconciler
	lifecycle  *lifecycle.Manager
	operations *operation.Service
	unlockers  *unlock.Suite
}

func newApp() (*app, error) {
	st, err := store.NewStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	res, err := resolver.New(cfg.Resolver)
	if err != nil {
		return nil, err
	}
	evaluator, err := library.New(cfg.Evaluator)
	if err != nil {
		return nil, err
	}
	destroyer, err := destroy.New(cfg.Destroy)
	if err != nil {
		return nil, err
	}

	bus := pubsub.NewBus()
	return &app{
		store:      st,
		bus:        bus,
		locks:      lock.NewService(st, bus),
		reconciler: reconcile.NewReconciler(st, bus, res, evaluator),
		lifecycle:  lifecycle.NewManager(st, bus, destroyer, nil, nil),
		operations: operation.NewService(st, bus),
		unlockers:  unlock.NewSuite(st, bus),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
