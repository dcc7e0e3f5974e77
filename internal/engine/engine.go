// Package engine is the runtime propagation engine: it takes a validated
// entity graph and rule set, derives a static attribute-level evaluation
// order, and re-evaluates derived attributes and invariants incrementally as
// base facts change inside a storage transaction.
package engine

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/logicengine/internal/domain/rule"
	"github.com/erp/logicengine/internal/domain/schema"
	"github.com/erp/logicengine/internal/domain/shared"
)

// DefaultScale is the fixed-point scale used for currency arithmetic when no
// other scale is configured.
const DefaultScale = 2

// DefaultCascadeLimit bounds the number of recomputations per transaction.
// The dependency graph is a DAG, so a legal cascade terminates long before
// this; the limit only trips when a storage collaborator misbehaves.
const DefaultCascadeLimit = 100_000

// childAggregate pairs an aggregate rule with the relationship it folds
// over, indexed from the child side for event seeding.
type childAggregate struct {
	agg rule.Aggregate
	rel schema.Relationship
}

// Engine holds the immutable pieces shared by all transactions: the entity
// graph, the rule set, the resolved evaluation order, and the store.
type Engine struct {
	graph        *schema.Graph
	rules        *rule.Registry
	store        Store
	res          *resolver
	scale        int32
	cascadeLimit int
	log          *zap.Logger

	formulaByTarget   map[attrNode]rule.Formula
	aggregateByTarget map[attrNode]rule.Aggregate
	formulasByEntity  map[string][]rule.Formula
	ownAggregates     map[string][]rule.Aggregate // keyed by parent entity
	childAggregates   map[string][]childAggregate // keyed by child entity
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithScale sets the fixed-point scale for currency attributes.
func WithScale(scale int32) Option {
	return func(e *Engine) { e.scale = scale }
}

// WithCascadeLimit sets the per-transaction recomputation guard.
func WithCascadeLimit(limit int) Option {
	return func(e *Engine) { e.cascadeLimit = limit }
}

// New builds an engine from a registered rule set. It resolves the
// dependency graph up front: a cycle or a derived attribute without a
// producing rule is a fatal SchemaError here, never a per-transaction error.
func New(reg *rule.Registry, store Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		graph:        reg.Graph(),
		rules:        reg,
		store:        store,
		scale:        DefaultScale,
		cascadeLimit: DefaultCascadeLimit,
		log:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}

	res, err := newResolver(e.graph, reg)
	if err != nil {
		return nil, err
	}
	e.res = res

	e.formulaByTarget = make(map[attrNode]rule.Formula)
	e.formulasByEntity = make(map[string][]rule.Formula)
	for _, f := range reg.Formulas() {
		n := attrNode{entity: f.Entity, attribute: f.Target}
		e.formulaByTarget[n] = f
		e.formulasByEntity[f.Entity] = append(e.formulasByEntity[f.Entity], f)
	}
	e.aggregateByTarget = make(map[attrNode]rule.Aggregate)
	e.ownAggregates = make(map[string][]rule.Aggregate)
	e.childAggregates = make(map[string][]childAggregate)
	for _, a := range reg.Aggregates() {
		n := attrNode{entity: a.Entity, attribute: a.Target}
		e.aggregateByTarget[n] = a
		e.ownAggregates[a.Entity] = append(e.ownAggregates[a.Entity], a)
		rel, _ := e.graph.ChildRelationship(a.Entity, a.Relationship)
		e.childAggregates[rel.Child] = append(e.childAggregates[rel.Child], childAggregate{agg: a, rel: rel})
	}

	for _, ent := range e.graph.Entities() {
		for _, a := range ent.Attributes() {
			if !a.Derived {
				continue
			}
			n := attrNode{entity: ent.Name, attribute: a.Name}
			_, hasFormula := e.formulaByTarget[n]
			_, hasAggregate := e.aggregateByTarget[n]
			if !hasFormula && !hasAggregate {
				return nil, shared.NewSchemaError(shared.SchemaMissingProducer, "derived attribute %s has no producing rule", n)
			}
		}
	}

	e.log.Info("propagation engine ready",
		zap.Int("attributes", len(e.res.nodes)),
		zap.Int("formulas", len(reg.Formulas())),
		zap.Int("aggregates", len(reg.Aggregates())),
		zap.Int("constraints", len(reg.Constraints())),
	)
	return e, nil
}

// Graph returns the entity graph the engine was built on.
func (e *Engine) Graph() *schema.Graph {
	return e.graph
}

// Begin opens a storage transaction and returns a change-set collector
// bound to it.
func (e *Engine) Begin(ctx context.Context) (*Tx, error) {
	st, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	txID := uuid.New()
	return &Tx{
		e:       e,
		st:      st,
		id:      txID,
		state:   stateCollecting,
		dirty:   make(map[attrNode]map[uuid.UUID]struct{}),
		touched: make(map[string]map[uuid.UUID]*rowState),
		cache:   make(map[string]Row),
		log:     e.log.With(zap.String("transaction_id", txID.String())),
	}, nil
}
