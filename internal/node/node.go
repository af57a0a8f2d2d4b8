// Package node wires the service together from a configuration snapshot:
// keyring, state store, execution engine, relay router, events, metrics.
package node

import (
	"fmt"

	"xcmlite/internal/config"
	"xcmlite/internal/crypto"
	"xcmlite/internal/engine"
	"xcmlite/internal/events"
	"xcmlite/internal/metrics"
	"xcmlite/internal/relay"
	"xcmlite/internal/state"
)

type Node struct {
	Config  *config.Config
	Keys    *crypto.Keyring
	Store   *state.Store
	Log     *state.Log
	Engine  *engine.Engine
	Router  *relay.Router
	Events  *events.Emitter
	Metrics *metrics.Metrics
}

type Options struct {
	// Sinks receive lifecycle events; nil means events are dropped.
	Sinks []events.Sink
	// Faults overrides the configured random failure rate, for tests and
	// demo tooling.
	Faults relay.FaultInjector
}

func New(cfg *config.Config, opts Options) (*Node, error) {
	ids := cfg.ParachainIDs()

	sources := make(map[uint32]crypto.KeySource, len(cfg.Parachains.Keys))
	for _, k := range cfg.Parachains.Keys {
		sources[k.ParaID] = crypto.KeySource{
			SecretHex:  k.SecretKey,
			SeedPhrase: k.SeedPhrase,
		}
	}
	keys, err := crypto.BuildKeyring(ids, sources)
	if err != nil {
		return nil, fmt.Errorf("build keyring: %w", err)
	}

	store, err := state.New(ids)
	if err != nil {
		return nil, fmt.Errorf("init state: %w", err)
	}
	for _, g := range cfg.Parachains.Genesis {
		if err := store.Credit(g.ParaID, g.Account, g.Amount); err != nil {
			return nil, fmt.Errorf("apply genesis: %w", err)
		}
	}

	emitter := events.New(opts.Sinks...)
	m := metrics.New()
	log := state.NewLog()
	eng := engine.New(store)
	validator := relay.NewValidator(keys, store, cfg.Parachains.Versions)
	router := relay.NewRouter(validator, eng, log, emitter, m, relay.Options{
		HopDelay:    cfg.Relay.HopDelay,
		HopTimeout:  cfg.Relay.HopTimeout,
		FailureRate: cfg.Relay.FailureRate,
		MaxInFlight: cfg.Relay.MaxInFlight,
		Faults:      opts.Faults,
	})

	return &Node{
		Config:  cfg,
		Keys:    keys,
		Store:   store,
		Log:     log,
		Engine:  eng,
		Router:  router,
		Events:  emitter,
		Metrics: m,
	}, nil
}

// Close drains in-flight messages and stops event dispatch.
func (n *Node) Close() {
	n.Router.Drain()
	n.Events.Close()
}
