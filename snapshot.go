package asyncssr

// ContextSnapshot freezes the ambient rendering context at one tree
// position: the keyed provider entries active there, the merged legacy
// context, the current select value and the markup namespace. Snapshots are
// taken by value when a node is created and never change afterwards, so a
// later render can resume at that position no matter what the live renderer
// state has become.
type ContextSnapshot struct {
	Providers   []ProviderEntry
	Legacy      LegacyContext
	SelectValue any
	Namespace   string
}

// captureSnapshot copies the engine's provider stack and select value
// together with the legacy context and namespace of the position being
// rendered.
func captureSnapshot(eng Engine, caps capabilities, ctx LegacyContext, namespace string) *ContextSnapshot {
	s := &ContextSnapshot{
		Providers: eng.Providers().Entries(),
		Legacy:    cloneLegacy(ctx),
		Namespace: namespace,
	}
	if caps.SelectValue {
		s.SelectValue = eng.(SelectValueCarrier).SelectValue()
	}
	return s
}

// Restore replays the snapshot's providers onto a fresh engine, bottom
// first, and restores the select value. The legacy context and namespace
// seed the engine's bottom frame through EngineConfig instead; Restore does
// not touch frames.
func (s *ContextSnapshot) Restore(eng Engine) {
	providers := eng.Providers()
	for _, e := range s.Providers {
		providers.Push(e.Ctx, e.Value)
	}
	if sv, ok := eng.(SelectValueCarrier); ok {
		sv.SetSelectValue(s.SelectValue)
	}
}

// capabilities records which optional engine features were detected when the
// renderer was constructed. The probe runs once; per-element feature tests
// never happen during a render.
type capabilities struct {
	SelectValue bool
	RootMarkers bool
}

func probeCapabilities(eng Engine) capabilities {
	var caps capabilities
	if _, ok := eng.(SelectValueCarrier); ok {
		caps.SelectValue = true
	}
	if rm, ok := eng.(RootMarkerEmitter); ok {
		caps.RootMarkers = rm.EmitsRootMarkers()
	}
	return caps
}
