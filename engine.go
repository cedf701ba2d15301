package asyncssr

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// Markup namespaces. Children of svg and math elements render in their
// namespace until a foreignObject switches back to HTML.
const (
	NamespaceHTML   = "http://www.w3.org/1999/xhtml"
	NamespaceSVG    = "http://www.w3.org/2000/svg"
	NamespaceMathML = "http://www.w3.org/1998/Math/MathML"
)

// maxResolveDepth bounds how many component layers a single element may
// resolve through before the renderer assumes a cycle.
const maxResolveDepth = 1000

// RenderHook intercepts the rendering of individual child values. When
// installed, the engine routes every child through the hook instead of
// RenderBase; the hook decides what (if anything) reaches the output.
type RenderHook interface {
	RenderElement(el any, ctx LegacyContext, namespace string) (string, error)
}

// Engine is the contract the async layer needs from a synchronous renderer:
// an inspectable work stack, a keyed provider stack, a text-adjacency flag,
// and the two rendering entry points. SyncRenderer is the built-in
// implementation; alternative engines may be supplied via WithEngineFactory.
type Engine interface {
	Stack() *FrameStack
	Providers() *ProviderStack
	StaticMarkup() bool
	LastWasText() bool
	SetLastWasText(bool)
	SetRenderHook(RenderHook)

	// RenderBase renders one child value in the given legacy context and
	// namespace. Container elements push a frame and return only their
	// opening markup.
	RenderBase(el any, ctx LegacyContext, namespace string) (string, error)

	// Read drives the stack to completion and returns the accumulated
	// markup. With a render hook installed the returned string is empty;
	// the hook owns the output.
	Read() (string, error)
}

// SelectValueCarrier is an optional engine capability: tracking the value of
// the nearest enclosing select element so option children can mark
// themselves selected. Engines without it lose only that feature.
type SelectValueCarrier interface {
	SelectValue() any
	SetSelectValue(any)
}

// RootMarkerEmitter is an optional engine capability: tagging top-level
// elements with the hydration root marker. Engines without it render no
// markers and need no marker correction.
type RootMarkerEmitter interface {
	EmitsRootMarkers() bool
}

// EngineConfig seeds a new engine instance.
type EngineConfig struct {
	// StaticMarkup suppresses hydration artifacts: root markers and the
	// comment separators between adjacent text nodes.
	StaticMarkup bool

	// Context and Namespace seed the bottom stack frame. Namespace
	// defaults to NamespaceHTML.
	Context   LegacyContext
	Namespace string

	// SelectValue seeds the current-select-value slot, for renders that
	// resume inside a select element.
	SelectValue any
}

// SyncRenderer is the built-in synchronous engine: a stack machine that
// renders one element graph to markup in a single pass. It has no notion of
// boundaries or deferred work; the async layer builds those on top through
// the stack and hook surfaces.
type SyncRenderer struct {
	stack        *FrameStack
	providers    *ProviderStack
	selectValue  any
	lastWasText  bool
	staticMarkup bool
	hook         RenderHook
}

// NewSyncRenderer returns an engine primed to render root. Call Read to
// drive it.
func NewSyncRenderer(root any, cfg EngineConfig) *SyncRenderer {
	ns := cfg.Namespace
	if ns == "" {
		ns = NamespaceHTML
	}
	r := &SyncRenderer{
		stack:        NewFrameStack(),
		providers:    &ProviderStack{},
		selectValue:  cfg.SelectValue,
		staticMarkup: cfg.StaticMarkup,
	}
	r.stack.Push(&Frame{
		Children:  []any{root},
		Context:   cfg.Context,
		Namespace: ns,
	})
	return r
}

func (r *SyncRenderer) Stack() *FrameStack         { return r.stack }
func (r *SyncRenderer) Providers() *ProviderStack  { return r.providers }
func (r *SyncRenderer) StaticMarkup() bool         { return r.staticMarkup }
func (r *SyncRenderer) LastWasText() bool          { return r.lastWasText }
func (r *SyncRenderer) SetLastWasText(b bool)      { r.lastWasText = b }
func (r *SyncRenderer) SetRenderHook(h RenderHook) { r.hook = h }
func (r *SyncRenderer) SelectValue() any           { return r.selectValue }
func (r *SyncRenderer) SetSelectValue(v any)       { r.selectValue = v }
func (r *SyncRenderer) EmitsRootMarkers() bool     { return !r.staticMarkup }

// Read drives the stack until it is empty. Each iteration renders the next
// child of the top frame, or completes the frame: flushing its footer,
// popping its provider and restoring the select value it saved.
func (r *SyncRenderer) Read() (string, error) {
	var b strings.Builder
	for r.stack.Depth() > 0 {
		frame := r.stack.Top()
		if frame.ChildIndex >= len(frame.Children) {
			popped := r.stack.Pop()
			if popped.Provider != nil {
				r.providers.Pop()
			}
			if popped.hasRestoreSelect {
				r.selectValue = popped.restoreSelect
			}
			if popped.Footer != "" && !r.stack.Hooked() {
				r.lastWasText = false
				b.WriteString(popped.Footer)
			}
			continue
		}
		child := frame.Children[frame.ChildIndex]
		frame.ChildIndex++

		var out string
		var err error
		if r.hook != nil {
			out, err = r.hook.RenderElement(child, frame.Context, frame.Namespace)
		} else {
			out, err = r.RenderBase(child, frame.Context, frame.Namespace)
		}
		if err != nil {
			return "", err
		}
		b.WriteString(out)
	}
	return b.String(), nil
}

// RenderBase renders one child value. Scalars become escaped text, slices
// and container elements push frames, components resolve until they yield a
// concrete value.
func (r *SyncRenderer) RenderBase(el any, ctx LegacyContext, namespace string) (string, error) {
	switch v := el.(type) {
	case nil:
		return "", nil
	case bool:
		return "", nil
	case string:
		return r.renderText(v), nil
	case RawHTML:
		r.lastWasText = false
		return string(v), nil
	case []any:
		r.stack.Push(&Frame{
			Type:      Fragment,
			Children:  flattenChildren(v),
			Context:   ctx,
			Namespace: namespace,
		})
		return "", nil
	case *Element:
		return r.renderElement(v, ctx, namespace)
	default:
		if s, ok := numericText(v); ok {
			return r.renderText(s), nil
		}
		return "", fmt.Errorf("asyncssr: cannot render value of type %T", el)
	}
}

func (r *SyncRenderer) renderElement(el *Element, ctx LegacyContext, namespace string) (string, error) {
	resolved, ctx, err := r.resolve(el, ctx)
	if err != nil {
		return "", err
	}
	e, ok := resolved.(*Element)
	if !ok {
		// The component chain yielded a scalar, slice or nil.
		return r.RenderBase(resolved, ctx, namespace)
	}

	switch t := e.Type.(type) {
	case string:
		return r.renderDOM(e, ctx, namespace)
	case fragmentType:
		r.stack.Push(&Frame{
			Type:      t,
			Children:  flattenChildren(e.Children),
			Context:   ctx,
			Namespace: namespace,
		})
		return "", nil
	case providerType:
		r.providers.Push(t.ctx, e.Props["value"])
		r.stack.Push(&Frame{
			Type:      t,
			Children:  flattenChildren(e.Children),
			Context:   ctx,
			Namespace: namespace,
			Provider:  t.ctx,
		})
		return "", nil
	case suspenseType:
		return "", fmt.Errorf("asyncssr: suspense boundary reached the synchronous engine; render through Renderer")
	default:
		return "", fmt.Errorf("asyncssr: unknown element type %T", e.Type)
	}
}

// resolve follows the component chain of el until it produces a non-component
// value, threading legacy context merges along the way.
func (r *SyncRenderer) resolve(el *Element, ctx LegacyContext) (any, LegacyContext, error) {
	var cur any = el
	for depth := 0; ; depth++ {
		if depth > maxResolveDepth {
			return nil, ctx, fmt.Errorf("asyncssr: element resolved through more than %d component layers", maxResolveDepth)
		}
		e, ok := cur.(*Element)
		if !ok {
			return cur, ctx, nil
		}
		switch t := e.Type.(type) {
		case Component:
			res, err := t(&Scope{providers: r.providers, legacy: ctx}, componentProps(e))
			if err != nil {
				return nil, ctx, err
			}
			cur = res
		case func(*Scope, Props) (any, error):
			res, err := Component(t)(&Scope{providers: r.providers, legacy: ctx}, componentProps(e))
			if err != nil {
				return nil, ctx, err
			}
			cur = res
		case legacyType:
			values, _ := e.Props["values"].(LegacyContext)
			ctx = mergeLegacy(ctx, values)
			if len(e.Children) == 1 {
				cur = e.Children[0]
				continue
			}
			return &Element{Type: Fragment, Children: e.Children}, ctx, nil
		default:
			return e, ctx, nil
		}
	}
}

func (r *SyncRenderer) renderDOM(el *Element, ctx LegacyContext, namespace string) (string, error) {
	tag, _ := el.Type.(string)
	if namespace == NamespaceHTML {
		tag = strings.ToLower(tag)
	}
	if tag == "" {
		return "", fmt.Errorf("asyncssr: element has an empty tag")
	}

	childNS := namespace
	switch {
	case tag == "svg":
		childNS = NamespaceSVG
	case tag == "math":
		childNS = NamespaceMathML
	case tag == "foreignObject" && namespace == NamespaceSVG:
		childNS = NamespaceHTML
	}

	var restoreSelect any
	hasRestoreSelect := false
	if tag == "select" {
		restoreSelect = r.selectValue
		hasRestoreSelect = true
		r.selectValue = el.Props["value"]
	}

	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(tag)
	if !r.staticMarkup && r.stack.Depth() == 1 {
		b.WriteString(` data-reactroot=""`)
	}
	r.writeAttributes(&b, el, tag)
	b.WriteByte('>')
	r.lastWasText = false

	if namespace == NamespaceHTML && voidElements[tag] {
		if len(flattenChildren(el.Children)) > 0 {
			return "", fmt.Errorf("asyncssr: void element %q cannot have children", tag)
		}
		return b.String(), nil
	}

	r.stack.Push(&Frame{
		Type:             tag,
		Children:         flattenChildren(el.Children),
		Footer:           "</" + tag + ">",
		Context:          ctx,
		Namespace:        childNS,
		restoreSelect:    restoreSelect,
		hasRestoreSelect: hasRestoreSelect,
	})
	return b.String(), nil
}

func (r *SyncRenderer) writeAttributes(b *strings.Builder, el *Element, tag string) {
	if len(el.Props) == 0 {
		if tag == "option" && r.optionSelected(el) {
			b.WriteString(` selected=""`)
		}
		return
	}
	keys := make([]string, 0, len(el.Props))
	for k := range el.Props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch k {
		case "children", "fallback", "key":
			continue
		}
		if tag == "select" && k == "value" {
			// Select values drive option selection, they are not markup.
			continue
		}
		v := el.Props[k]
		if v == nil {
			continue
		}
		switch val := v.(type) {
		case bool:
			if val {
				b.WriteByte(' ')
				b.WriteString(k)
				b.WriteString(`=""`)
			}
		case string:
			b.WriteByte(' ')
			b.WriteString(k)
			b.WriteString(`="`)
			b.WriteString(html.EscapeString(val))
			b.WriteByte('"')
		default:
			if reflect.ValueOf(v).Kind() == reflect.Func {
				continue
			}
			b.WriteByte(' ')
			b.WriteString(k)
			b.WriteString(`="`)
			b.WriteString(html.EscapeString(fmt.Sprint(v)))
			b.WriteByte('"')
		}
	}
	if tag == "option" && el.Props["selected"] == nil && r.optionSelected(el) {
		b.WriteString(` selected=""`)
	}
}

// optionSelected reports whether an option's value matches the value of the
// nearest enclosing select. Multi-selects carry a slice of values.
func (r *SyncRenderer) optionSelected(el *Element) bool {
	if r.selectValue == nil {
		return false
	}
	optVal, ok := el.Props["value"]
	if !ok || optVal == nil {
		return false
	}
	switch sv := r.selectValue.(type) {
	case []any:
		for _, v := range sv {
			if fmt.Sprint(v) == fmt.Sprint(optVal) {
				return true
			}
		}
		return false
	case []string:
		for _, v := range sv {
			if v == fmt.Sprint(optVal) {
				return true
			}
		}
		return false
	default:
		return fmt.Sprint(sv) == fmt.Sprint(optVal)
	}
}

// renderText escapes s, inserting a comment separator when the previous
// sibling was also text so the hydrating client sees two distinct nodes.
func (r *SyncRenderer) renderText(s string) string {
	if s == "" {
		return ""
	}
	var prefix string
	if r.lastWasText && !r.staticMarkup {
		prefix = "<!-- -->"
	}
	r.lastWasText = true
	return prefix + html.EscapeString(s)
}

// RawHTML is markup inserted verbatim, with no escaping. The caller is
// responsible for its safety.
type RawHTML string

// UnsafeHTML marks s as raw markup.
func UnsafeHTML(s string) RawHTML { return RawHTML(s) }

func numericText(v any) (string, bool) {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return fmt.Sprint(v), true
	}
	return "", false
}

// voidElements never take children or closing tags.
var voidElements = map[string]bool{
	"area":   true,
	"base":   true,
	"br":     true,
	"col":    true,
	"embed":  true,
	"hr":     true,
	"img":    true,
	"input":  true,
	"link":   true,
	"meta":   true,
	"param":  true,
	"source": true,
	"track":  true,
	"wbr":    true,
}
