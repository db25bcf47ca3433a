package export

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dnswlt/portexport/internal/metrics"
	"github.com/dnswlt/portexport/internal/port"
	"github.com/dnswlt/portexport/internal/query"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Catalog is the subset of the Port client used by the Planner.
// Failures are reported as empty results, see port.Client.
type Catalog interface {
	Blueprints(ctx context.Context) []port.Blueprint
	Entities(ctx context.Context, blueprintID string, includeCalculated bool) []port.Entity
	Entity(ctx context.Context, blueprintID, entityID string, includeCalculated bool) (port.Entity, bool)
}

// Mode selects which entities are exported. Exactly one mode is active per run.
type Mode int

const (
	ModeNone Mode = iota
	ModeAll
	ModeBlueprints
	ModeEntities
)

func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeBlueprints:
		return "blueprints"
	case ModeEntities:
		return "entities"
	}
	return "none"
}

// Scope describes what to export.
type Scope struct {
	Mode Mode
	// Blueprint identifiers for ModeBlueprints, in export order.
	Blueprints []string
	// Entity specs for ModeEntities: "blueprint:entity" or a bare "entity".
	Entities []string
	// Entity identifiers to drop. Ignored in ModeEntities.
	Exclude           Set
	IncludeCalculated bool
}

// Set is a set of entity identifiers.
type Set map[string]struct{}

func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s Set) Contains(item string) bool {
	_, ok := s[item]
	return ok
}

type PlannerOptions struct {
	Logger *slog.Logger
	// Optional filter applied after exclusion in ModeAll and ModeBlueprints.
	Filter *query.Evaluator
	// Size of the LRU cache for single entity lookups. 0 disables caching.
	EntityCacheSize int
	Metrics         *metrics.Collector
}

type entityKey struct {
	blueprint         string
	entity            string
	includeCalculated bool
}

// Planner retrieves the entities of a Scope. Retrieval is sequential.
type Planner struct {
	catalog Catalog
	logger  *slog.Logger
	filter  *query.Evaluator
	metrics *metrics.Collector
	cache   *lru.Cache[entityKey, port.Entity]
}

func NewPlanner(catalog Catalog, opts PlannerOptions) (*Planner, error) {
	p := &Planner{
		catalog: catalog,
		logger:  opts.Logger,
		filter:  opts.Filter,
		metrics: opts.Metrics,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if opts.EntityCacheSize > 0 {
		c, err := lru.New[entityKey, port.Entity](opts.EntityCacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create entity cache: %w", err)
		}
		p.cache = c
	}
	return p, nil
}

// Export dispatches to the export function of the scope's mode.
// The returned error is non-nil only for an invalid mode or a cancelled context.
func (p *Planner) Export(ctx context.Context, scope Scope) (*Result, error) {
	switch scope.Mode {
	case ModeAll:
		return p.ExportAll(ctx, scope.Exclude, scope.IncludeCalculated)
	case ModeBlueprints:
		return p.ExportBlueprints(ctx, scope.Blueprints, scope.Exclude, scope.IncludeCalculated)
	case ModeEntities:
		return p.ExportEntities(ctx, scope.Entities, scope.IncludeCalculated)
	}
	return nil, fmt.Errorf("invalid export mode %v", scope.Mode)
}

// Filter returns the entities whose identifier is not in exclude, in their
// original order. Entities without an identifier are dropped as well.
func Filter(entities []port.Entity, exclude Set) []port.Entity {
	var out []port.Entity
	for _, e := range entities {
		id := e.Identifier()
		if id != "" && !exclude.Contains(id) {
			out = append(out, e)
		}
	}
	return out
}

// selectEntities applies exclusion via Filter and then the optional query filter.
func (p *Planner) selectEntities(blueprint string, entities []port.Entity, exclude Set) []port.Entity {
	for _, e := range entities {
		if id := e.Identifier(); exclude.Contains(id) {
			p.logger.Info("Excluding entity", "entity", id, "blueprint", blueprint)
		}
	}
	kept := Filter(entities, exclude)
	if p.filter == nil {
		return kept
	}
	var out []port.Entity
	for _, e := range kept {
		ok, err := p.filter.Matches(blueprint, e)
		if err != nil {
			p.logger.Warn("Filter evaluation failed", "entity", e.Identifier(), "error", err)
		}
		if !ok {
			p.logger.Debug("Entity does not match filter", "entity", e.Identifier(), "blueprint", blueprint)
			continue
		}
		out = append(out, e)
	}
	return out
}

// ExportAll exports the entities of all blueprints, minus excluded ones.
// Blueprints left without entities are omitted.
func (p *Planner) ExportAll(ctx context.Context, exclude Set, includeCalculated bool) (*Result, error) {
	res := NewResult()
	bps := p.catalog.Blueprints(ctx)
	if len(bps) == 0 {
		p.logger.Error("No blueprints found or failed to fetch blueprints")
		return res, ctx.Err()
	}
	for _, bp := range bps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := bp.Identifier()
		if id == "" {
			continue
		}
		entities := p.catalog.Entities(ctx, id, includeCalculated)
		res.Append(id, p.selectEntities(id, entities, exclude)...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.logger.Info("Exported entities from all blueprints", "entities", res.Len(), "blueprints", len(res.Blueprints()))
	return res, nil
}

// ExportBlueprints exports the entities of the given blueprints in order.
// Blueprints left without entities are omitted with a warning.
func (p *Planner) ExportBlueprints(ctx context.Context, blueprintIDs []string, exclude Set, includeCalculated bool) (*Result, error) {
	res := NewResult()
	for _, id := range blueprintIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entities := p.selectEntities(id, p.catalog.Entities(ctx, id, includeCalculated), exclude)
		if len(entities) == 0 {
			p.logger.Warn("No entities found for blueprint", "blueprint", id)
			continue
		}
		res.Append(id, entities...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.logger.Info("Exported entities from specified blueprints", "entities", res.Len(), "blueprints", len(res.Blueprints()))
	return res, nil
}

// ParseEntitySpec splits "blueprint:entity" at the first colon.
// For a bare "entity" the blueprint is empty and ok is false.
func ParseEntitySpec(spec string) (blueprint, entity string, ok bool) {
	blueprint, entity, ok = strings.Cut(spec, ":")
	if !ok {
		return "", spec, false
	}
	return blueprint, entity, true
}

// ExportEntities exports individually named entities. Specs with a blueprint
// are fetched directly. Bare identifiers are looked up in every blueprint,
// and every hit is recorded under the blueprint it was found in.
// No deduplication and no exclusion is applied.
func (p *Planner) ExportEntities(ctx context.Context, specs []string, includeCalculated bool) (*Result, error) {
	res := NewResult()
	var bare []string
	for _, spec := range specs {
		bp, id, ok := ParseEntitySpec(spec)
		if !ok {
			bare = append(bare, id)
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e, found := p.lookup(ctx, bp, id, includeCalculated); found {
			res.Append(bp, e)
		}
	}

	if len(bare) > 0 {
		// The API has no global entity lookup, so every blueprint is tried.
		for _, bp := range p.catalog.Blueprints(ctx) {
			bpID := bp.Identifier()
			if bpID == "" {
				continue
			}
			for _, id := range bare {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				if e, found := p.lookup(ctx, bpID, id, includeCalculated); found {
					res.Append(bpID, e)
					p.logger.Info("Found entity", "entity", id, "blueprint", bpID)
				}
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.logger.Info("Exported specific entities", "entities", res.Len())
	return res, nil
}

func (p *Planner) lookup(ctx context.Context, blueprint, entity string, includeCalculated bool) (port.Entity, bool) {
	key := entityKey{blueprint: blueprint, entity: entity, includeCalculated: includeCalculated}
	if p.cache != nil {
		if e, ok := p.cache.Get(key); ok {
			p.metrics.CacheHit()
			return e, true
		}
		p.metrics.CacheMiss()
	}
	e, ok := p.catalog.Entity(ctx, blueprint, entity, includeCalculated)
	if ok && p.cache != nil {
		p.cache.Add(key, e)
	}
	return e, ok
}
