// Package sideeffect maps document transitions to the reactions they cause.
//
// Effects are registered per (document type, new status). Critical effects
// run inside the transaction of the transition that triggered them and are
// recorded in the dispatch ledger first, so a repeated dispatch of the same
// transition is a no-op and a failure rolls everything back. Non-critical
// effects run after commit; their failures are logged and go no further.
package sideeffect

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/entity"
	domainwf "github.com/garyjia/finflow/internal/domain/workflow"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Transition describes one persisted status change
type Transition struct {
	DocumentType entity.DocumentType
	DocumentCode string
	Action       domainwf.Action
	From         domainwf.State
	To           domainwf.State
	Actor        entity.Actor
	At           time.Time
}

// ApplyFunc performs an effect and returns the codes of documents it created
// or changed
type ApplyFunc func(ctx context.Context, t Transition) ([]string, error)

// Effect is a registered reaction to a transition
type Effect struct {
	Name     string
	Critical bool
	Apply    ApplyFunc
}

// Outcome of a dispatched effect
const (
	StatusApplied        = "applied"
	StatusAlreadyApplied = "already_applied"
	StatusDeferred       = "deferred"
)

// SideEffect reports what a transition caused
type SideEffect struct {
	Name      string   `json:"name"`
	Critical  bool     `json:"critical"`
	Status    string   `json:"status"`
	Documents []string `json:"documents,omitempty"`
}

type registryKey struct {
	docType entity.DocumentType
	status  domainwf.State
}

// Dispatcher runs registered effects for transitions
type Dispatcher struct {
	mu       sync.RWMutex
	registry map[registryKey][]Effect
	always   []Effect

	ledger port.DispatchLedger
	clock  port.Clock
	logger Logger
}

// NewDispatcher creates a side-effect dispatcher
func NewDispatcher(ledger port.DispatchLedger, clock port.Clock, logger Logger) *Dispatcher {
	return &Dispatcher{
		registry: make(map[registryKey][]Effect),
		ledger:   ledger,
		clock:    clock,
		logger:   logger,
	}
}

// Register adds an effect for transitions of docType into status
func (d *Dispatcher) Register(docType entity.DocumentType, status domainwf.State, effect Effect) {
	if effect.Name == "" || effect.Apply == nil {
		panic("sideeffect: effect needs a name and an apply function")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	key := registryKey{docType: docType, status: status}
	d.registry[key] = append(d.registry[key], effect)
}

// RegisterAll adds a non-critical effect for every transition
func (d *Dispatcher) RegisterAll(effect Effect) {
	if effect.Critical {
		panic("sideeffect: effects for every transition cannot be critical")
	}
	if effect.Name == "" || effect.Apply == nil {
		panic("sideeffect: effect needs a name and an apply function")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.always = append(d.always, effect)
}

func (d *Dispatcher) effectsFor(docType entity.DocumentType, status domainwf.State) []Effect {
	d.mu.RLock()
	defer d.mu.RUnlock()

	key := registryKey{docType: docType, status: status}
	out := make([]Effect, 0, len(d.registry[key])+len(d.always))
	out = append(out, d.registry[key]...)
	out = append(out, d.always...)
	return out
}

// OnTransition runs the critical effects of t and lists the non-critical ones
// as deferred. It must be called inside the transaction that persisted t; an
// error means the whole transaction has to roll back.
func (d *Dispatcher) OnTransition(ctx context.Context, t Transition) ([]SideEffect, error) {
	var results []SideEffect

	for _, eff := range d.effectsFor(t.DocumentType, t.To) {
		if !eff.Critical {
			results = append(results, SideEffect{Name: eff.Name, Status: StatusDeferred})
			continue
		}

		claimed, err := d.ledger.Claim(ctx, string(t.DocumentType), t.DocumentCode, eff.Name, d.clock.Now())
		if err != nil {
			return nil, fmt.Errorf("claim %s for %s: %w", eff.Name, t.DocumentCode, err)
		}
		if !claimed {
			d.logger.Info("Side effect already applied, skipping",
				"effect", eff.Name,
				"document_type", t.DocumentType,
				"document_code", t.DocumentCode,
			)
			results = append(results, SideEffect{Name: eff.Name, Critical: true, Status: StatusAlreadyApplied})
			continue
		}

		docs, err := eff.Apply(ctx, t)
		if err != nil {
			d.logger.Error("Critical side effect failed",
				"effect", eff.Name,
				"document_type", t.DocumentType,
				"document_code", t.DocumentCode,
				"error", err,
			)
			return nil, fmt.Errorf("side effect %s on %s: %w", eff.Name, t.DocumentCode, err)
		}

		results = append(results, SideEffect{Name: eff.Name, Critical: true, Status: StatusApplied, Documents: docs})
	}

	return results, nil
}

// AfterCommit runs the non-critical effects of t. Failures and panics are
// logged and swallowed.
func (d *Dispatcher) AfterCommit(ctx context.Context, t Transition) {
	for _, eff := range d.effectsFor(t.DocumentType, t.To) {
		if eff.Critical {
			continue
		}
		if err := d.safeApply(ctx, eff, t); err != nil {
			d.logger.Error("Side effect failed",
				"effect", eff.Name,
				"document_type", t.DocumentType,
				"document_code", t.DocumentCode,
				"error", err,
			)
		}
	}
}

func (d *Dispatcher) safeApply(ctx context.Context, eff Effect, t Transition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = eff.Apply(ctx, t)
	return err
}

// CriticalEffects returns the names of the critical effects registered for
// (docType, status) in registration order
func (d *Dispatcher) CriticalEffects(docType entity.DocumentType, status domainwf.State) []string {
	var names []string
	for _, eff := range d.effectsFor(docType, status) {
		if eff.Critical {
			names = append(names, eff.Name)
		}
	}
	return names
}

// Pending returns the critical effects registered for (docType, status) that
// have no ledger entry for code yet
func (d *Dispatcher) Pending(ctx context.Context, docType entity.DocumentType, status domainwf.State, code string) ([]string, error) {
	var pending []string
	for _, eff := range d.effectsFor(docType, status) {
		if !eff.Critical {
			continue
		}
		done, err := d.ledger.Has(ctx, string(docType), code, eff.Name)
		if err != nil {
			return nil, fmt.Errorf("check ledger for %s: %w", code, err)
		}
		if !done {
			pending = append(pending, eff.Name)
		}
	}
	return pending, nil
}

// Triggers lists the (document type, status) pairs with critical effects,
// ordered by type then status
func (d *Dispatcher) Triggers() []Trigger {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Trigger
	for key, effects := range d.registry {
		for _, eff := range effects {
			if eff.Critical {
				out = append(out, Trigger{DocumentType: key.docType, Status: key.status})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentType != out[j].DocumentType {
			return out[i].DocumentType < out[j].DocumentType
		}
		return out[i].Status < out[j].Status
	})
	return out
}

// Trigger is a (document type, status) pair that fires critical effects
type Trigger struct {
	DocumentType entity.DocumentType
	Status       domainwf.State
}
