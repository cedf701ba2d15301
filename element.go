package asyncssr

// Props holds the attributes and renderer-interpreted options of an element.
// For host elements the entries become HTML attributes; for components they
// are passed through to the component function.
type Props map[string]any

// Component is a function component. It receives the active Scope, which
// exposes provider and legacy context values, and its props. It returns the
// content to render in its place: an *Element, a string or number, a []any of
// children, or nil. Returning an error aborts the render unless the error
// carries a suspension (see Suspend).
type Component func(s *Scope, props Props) (any, error)

type (
	fragmentType struct{}
	suspenseType struct{}
	providerType struct{ ctx *Ctx }
	legacyType   struct{}
)

// Fragment groups children without emitting any surrounding markup.
var Fragment fragmentType

// Suspense marks an async boundary. Children of a Suspense element may
// suspend; the "fallback" prop supplies the content rendered in their place
// when the boundary gives up on server rendering.
var Suspense suspenseType

// Element is a node of the input element graph: a host tag (Type string),
// a Component, Fragment, Suspense, a context provider or a legacy context
// carrier. Elements are plain values; the renderer never mutates them.
type Element struct {
	Type     any
	Props    Props
	Children []any
}

// E constructs an element. Children may be strings, numbers, nil, booleans,
// other elements or nested []any slices; slices are flattened during
// rendering.
func E(typ any, props Props, children ...any) *Element {
	return &Element{Type: typ, Props: props, Children: children}
}

// Text is a convenience for a bare text child. Plain strings work anywhere a
// child is accepted; Text exists for call sites that want the intent visible.
func Text(s string) any { return s }

// flattenChildren expands nested child slices into a single level so stack
// frames index children uniformly. Nil and boolean children are kept here and
// skipped at render time, matching how absent children behave.
func flattenChildren(children []any) []any {
	flat := make([]any, 0, len(children))
	for _, c := range children {
		if sub, ok := c.([]any); ok {
			flat = append(flat, flattenChildren(sub)...)
			continue
		}
		flat = append(flat, c)
	}
	return flat
}

// componentProps builds the props passed to a component function, injecting
// the element's children under the "children" key when present.
func componentProps(el *Element) Props {
	if len(el.Children) == 0 {
		return el.Props
	}
	props := make(Props, len(el.Props)+1)
	for k, v := range el.Props {
		props[k] = v
	}
	props["children"] = el.Children
	return props
}
