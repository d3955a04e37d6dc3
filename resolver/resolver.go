// Package resolver turns natural-language element descriptions into CSS
// selectors. Three tiers run in order until one succeeds: structural
// reasoning over the serialized page, visual reasoning over a marked
// screenshot, and deterministic rule scoring. The rule tier needs no
// reasoning service, so resolution degrades rather than failing outright.
package resolver

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/config"
	"github.com/webpilot-ai/webpilot/driver"
	"github.com/webpilot-ai/webpilot/llm"
	"github.com/webpilot-ai/webpilot/types"
)

// Tier names the resolution strategy that produced a result.
type Tier string

const (
	TierStructural Tier = "structural"
	TierVision     Tier = "vision"
	TierRules      Tier = "rules"
)

// Confidence grades how sure the producing tier is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Resolution is a successful description-to-selector mapping.
type Resolution struct {
	Selector   string     `json:"selector"`
	Tier       Tier       `json:"tier"`
	Confidence Confidence `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// Resolver resolves element descriptions against a live page.
type Resolver struct {
	client llm.Client
	vision llm.VisionClient
	cfg    config.VisionConfig
	logger *zap.Logger
}

// New creates a resolver. client may be nil to disable the structural
// tier; vision may be nil to disable the visual tier.
func New(client llm.Client, vision llm.VisionClient, cfg config.VisionConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		client: client,
		vision: vision,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "resolver")),
	}
}

// Resolve maps a description to a selector using the first tier that
// succeeds. Results are cached per page URL in the supplied cache; the
// caller clears the cache when the page navigates. A nil budget means
// unlimited reasoning calls.
func (r *Resolver) Resolve(ctx context.Context, page driver.Page, description string, budget *llm.Budget, cache *Cache) (*Resolution, error) {
	structure, err := page.CaptureStructure(ctx)
	if err != nil {
		return nil, err
	}

	if cached, ok := cache.Get(structure.URL, description); ok {
		r.logger.Debug("resolution cache hit",
			zap.String("description", description),
			zap.String("selector", cached.Selector))
		return cached, nil
	}

	if res := r.tryStructural(ctx, structure, description, budget); res != nil {
		cache.Put(structure.URL, description, res)
		return res, nil
	}

	if r.cfg.Enabled && r.cfg.Fallback && r.vision != nil {
		if res := r.tryVision(ctx, page, structure, description, budget); res != nil {
			cache.Put(structure.URL, description, res)
			return res, nil
		}
	}

	if res := scoreElements(structure.Elements, description); res != nil {
		r.logger.Debug("rule tier resolved element",
			zap.String("description", description),
			zap.String("selector", res.Selector),
			zap.String("confidence", string(res.Confidence)))
		cache.Put(structure.URL, description, res)
		return res, nil
	}

	return nil, types.Errorf(types.ErrElementNotFound,
		"no element matching %q on %s", description, structure.URL)
}

// tryStructural runs the structural reasoning tier; nil means fall through.
func (r *Resolver) tryStructural(ctx context.Context, structure *driver.PageStructure, description string, budget *llm.Budget) *Resolution {
	if r.client == nil || len(structure.Elements) == 0 {
		return nil
	}
	if err := budget.Charge(); err != nil {
		r.logger.Warn("skipping structural tier", zap.Error(err))
		return nil
	}

	res, err := r.resolveStructural(ctx, structure, description)
	if err != nil {
		r.logger.Debug("structural tier failed", zap.String("description", description), zap.Error(err))
		return nil
	}
	return res
}

// tryVision runs the visual reasoning tier; nil means fall through.
func (r *Resolver) tryVision(ctx context.Context, page driver.Page, structure *driver.PageStructure, description string, budget *llm.Budget) *Resolution {
	if err := budget.Charge(); err != nil {
		r.logger.Warn("skipping vision tier", zap.Error(err))
		return nil
	}

	res, err := r.resolveVision(ctx, page, description)
	if err != nil {
		r.logger.Debug("vision tier failed", zap.String("description", description), zap.Error(err))
		return nil
	}
	return res
}

// selectorKnown reports whether a selector came from the captured page.
func selectorKnown(structure *driver.PageStructure, selector string) bool {
	for _, el := range structure.Elements {
		if el.Selector == selector {
			return true
		}
	}
	return false
}

// Cache stores resolutions for one task. It is not safe for concurrent use;
// each task owns its own instance.
type Cache struct {
	entries map[string]*Resolution
}

// NewCache creates an empty per-task resolution cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Resolution)}
}

func cacheKey(url, description string) string {
	return url + "\x00" + strings.ToLower(strings.TrimSpace(description))
}

// Get looks up a prior resolution for the same page and description.
func (c *Cache) Get(url, description string) (*Resolution, bool) {
	if c == nil {
		return nil, false
	}
	res, ok := c.entries[cacheKey(url, description)]
	return res, ok
}

// Put stores a resolution.
func (c *Cache) Put(url, description string, res *Resolution) {
	if c == nil {
		return
	}
	c.entries[cacheKey(url, description)] = res
}

// Clear drops every entry. Called after any navigation, since selectors
// resolved against the old document may no longer exist.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.entries = make(map[string]*Resolution)
}

// Len reports the number of cached resolutions.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}
