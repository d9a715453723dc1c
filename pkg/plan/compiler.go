package plan

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/praxon/praxon/pkg/knowledge"
)

// Compiler translates active templates into execution plans. Compilations
// are cached by template id; the cache is read-mostly and explicitly
// invalidatable, with invalidation synchronized against concurrent
// translators.
type Compiler struct {
	store  *knowledge.Store
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*Plan
}

// NewCompiler creates a compiler over the store.
func NewCompiler(store *knowledge.Store, logger zerolog.Logger) *Compiler {
	return &Compiler{
		store:  store,
		logger: logger.With().Str("component", "plan-compiler").Logger(),
		cache:  make(map[string]*Plan),
	}
}

// Translate compiles the template into an execution plan, one step per
// atomic unit in original order. It fails when the template is unknown or
// not active. The caller owns the returned plan; repeated calls are cache
// hits with identical step count and ordering.
func (c *Compiler) Translate(id string) (*Plan, error) {
	c.mu.RLock()
	cached, ok := c.cache[id]
	c.mu.RUnlock()
	if ok {
		c.logger.Debug().Str("template", cached.TemplateName).Msg("Using cached translation")
		return cached.clone(), nil
	}

	tpl, found := c.store.GetTemplate(id)
	if !found {
		return nil, knowledge.NewLookupError("template not found", nil).
			WithTemplate(id).WithCode(knowledge.ErrCodeNotFound)
	}
	if tpl.Status != knowledge.StatusActive {
		return nil, knowledge.NewStateError(
			"template is not active: "+string(tpl.Status), nil).
			WithTemplate(id).WithCode(knowledge.ErrCodeNotActive)
	}

	steps := make([]Step, len(tpl.Units))
	for i, u := range tpl.Units {
		steps[i] = Step{Order: i + 1, Unit: u}
	}

	plan := &Plan{
		TemplateID:        id,
		TemplateName:      tpl.Name,
		Steps:             steps,
		SafetyTier:        tpl.SafetyTier(),
		EstimatedDuration: time.Duration(len(steps)) * stepEstimate,
		CreatedAt:         time.Now().UTC(),
	}

	c.mu.Lock()
	c.cache[id] = plan
	c.mu.Unlock()

	c.logger.Info().
		Str("template", tpl.Name).
		Int("steps", len(steps)).
		Msg("Template translated into execution plan")

	return plan.clone(), nil
}

// Invalidate drops the cached plan for one template.
func (c *Compiler) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, id)
}

// InvalidateAll drops every cached plan.
func (c *Compiler) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*Plan)
}

// CacheSize returns the number of cached plans.
func (c *Compiler) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
