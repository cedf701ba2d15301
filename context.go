package asyncssr

// LegacyContext is the older, map-shaped context: a bag of values merged as
// the renderer descends and visible to every component below the carrier.
type LegacyContext map[string]any

// Ctx identifies one keyed context. Components read the nearest provided
// value through Scope.Use; with no provider in scope they see the default.
type Ctx struct {
	name string
	def  any
}

// NewCtx creates a context with a name (used in diagnostics) and the value
// returned when no provider is in scope.
func NewCtx(name string, defaultValue any) *Ctx {
	return &Ctx{name: name, def: defaultValue}
}

// Name reports the name the context was created with.
func (c *Ctx) Name() string { return c.name }

// Default reports the context's default value.
func (c *Ctx) Default() any { return c.def }

// Provide returns an element that makes value visible for c to everything
// rendered inside children.
func (c *Ctx) Provide(value any, children ...any) *Element {
	return &Element{Type: providerType{ctx: c}, Props: Props{"value": value}, Children: children}
}

// LegacyValues returns an element that merges values into the legacy context
// for everything rendered inside children.
func LegacyValues(values LegacyContext, children ...any) *Element {
	return &Element{Type: legacyType{}, Props: Props{"values": values}, Children: children}
}

// ProviderEntry is one pushed provider value on the keyed context stack.
type ProviderEntry struct {
	Ctx   *Ctx
	Value any
}

// ProviderStack tracks the keyed context providers active at the renderer's
// current position. Providers push on entry to a provider element and pop
// when its frame completes, so the stack always mirrors the ancestor chain.
type ProviderStack struct {
	entries []ProviderEntry
}

// Push records a provider value for c.
func (s *ProviderStack) Push(c *Ctx, value any) {
	s.entries = append(s.entries, ProviderEntry{Ctx: c, Value: value})
}

// Pop removes the most recently pushed provider.
func (s *ProviderStack) Pop() {
	if n := len(s.entries); n > 0 {
		s.entries = s.entries[:n-1]
	}
}

// Index reports the current stack position. It grows and shrinks with
// provider entries and is comparable across snapshots.
func (s *ProviderStack) Index() int { return len(s.entries) }

// Current returns the topmost value provided for c, if any.
func (s *ProviderStack) Current(c *Ctx) (any, bool) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Ctx == c {
			return s.entries[i].Value, true
		}
	}
	return nil, false
}

// Entries returns a copy of the active entries, bottom first.
func (s *ProviderStack) Entries() []ProviderEntry {
	out := make([]ProviderEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Scope is what a component sees of its surroundings while it runs: the
// keyed provider stack and the merged legacy context at its position.
type Scope struct {
	providers *ProviderStack
	legacy    LegacyContext
}

// Use returns the value provided for c at this position, or c's default.
func (s *Scope) Use(c *Ctx) any {
	if v, ok := s.providers.Current(c); ok {
		return v
	}
	return c.def
}

// Legacy returns the legacy context value stored under key, or nil.
func (s *Scope) Legacy(key string) any {
	return s.legacy[key]
}

// LegacyAll returns a copy of the merged legacy context.
func (s *Scope) LegacyAll() LegacyContext {
	return cloneLegacy(s.legacy)
}

func cloneLegacy(ctx LegacyContext) LegacyContext {
	if ctx == nil {
		return nil
	}
	out := make(LegacyContext, len(ctx))
	for k, v := range ctx {
		out[k] = v
	}
	return out
}

func mergeLegacy(base LegacyContext, values LegacyContext) LegacyContext {
	if len(values) == 0 {
		return base
	}
	out := make(LegacyContext, len(base)+len(values))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range values {
		out[k] = v
	}
	return out
}
