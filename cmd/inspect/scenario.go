package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	asyncssr "github.com/revskill10/react-async-ssr"
)

// Scenario is a YAML description of an element tree with timed async
// regions, used to watch how a render resolves without writing Go.
type Scenario struct {
	Name string   `yaml:"name"`
	Root NodeSpec `yaml:"root"`
}

// NodeSpec is one YAML node: exactly one of Text, Tag or Suspense.
type NodeSpec struct {
	Text     string            `yaml:"text,omitempty"`
	Tag      string            `yaml:"tag,omitempty"`
	Attrs    map[string]string `yaml:"attrs,omitempty"`
	Children []NodeSpec        `yaml:"children,omitempty"`
	Suspense *SuspenseSpec     `yaml:"suspense,omitempty"`
}

// SuspenseSpec declares an async region: its content becomes available
// after Delay, or never (Fail), or only in the browser (NoSSR).
type SuspenseSpec struct {
	Fallback *NodeSpec  `yaml:"fallback,omitempty"`
	Delay    string     `yaml:"delay,omitempty"`
	NoSSR    bool       `yaml:"nossr,omitempty"`
	Fail     bool       `yaml:"fail,omitempty"`
	Children []NodeSpec `yaml:"children,omitempty"`
}

const defaultScenario = `name: profile page
root:
  tag: div
  attrs: {class: page}
  children:
    - tag: h1
      children:
        - text: Team Dashboard
    - suspense:
        fallback: {text: "loading profile…"}
        delay: 700ms
        children:
          - tag: section
            attrs: {class: profile}
            children:
              - text: "Ada, admin"
    - suspense:
        fallback: {text: "loading feed…"}
        delay: 1400ms
        children:
          - tag: ul
            children:
              - tag: li
                children: [{text: "deployed renderer v2"}]
              - tag: li
                children: [{text: "closed issue #42"}]
    - suspense:
        fallback: {text: "ads load in the browser"}
        nossr: true
        children:
          - tag: aside
            children: [{text: "50% off"}]
`

// loadScenario reads a scenario file, or the built-in default when path is
// empty.
func loadScenario(path string) (*Scenario, error) {
	data := []byte(defaultScenario)
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if sc.Name == "" {
		sc.Name = "unnamed scenario"
	}
	return &sc, nil
}

// regionInfo tracks one declared async region through the render.
type regionInfo struct {
	label   string
	delay   time.Duration
	noSSR   bool
	fail    bool
	promise *asyncssr.Promise
}

// build turns the scenario into an element tree, starting a timer per async
// region that settles its promise after the declared delay.
func (sc *Scenario) build() (any, []*regionInfo, error) {
	var regions []*regionInfo
	el, err := buildNode(sc.Root, &regions)
	if err != nil {
		return nil, nil, err
	}
	return el, regions, nil
}

func buildNode(spec NodeSpec, regions *[]*regionInfo) (any, error) {
	switch {
	case spec.Suspense != nil:
		return buildSuspense(spec.Suspense, regions)
	case spec.Tag != "":
		props := asyncssr.Props{}
		for k, v := range spec.Attrs {
			props[k] = v
		}
		children := make([]any, 0, len(spec.Children))
		for _, c := range spec.Children {
			child, err := buildNode(c, regions)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return asyncssr.E(spec.Tag, props, children...), nil
	case spec.Text != "":
		return spec.Text, nil
	default:
		return nil, errors.New("scenario node needs text, tag or suspense")
	}
}

func buildSuspense(spec *SuspenseSpec, regions *[]*regionInfo) (any, error) {
	info := &regionInfo{
		label:   fmt.Sprintf("region %d", len(*regions)+1),
		noSSR:   spec.NoSSR,
		fail:    spec.Fail,
		promise: asyncssr.NewPromise(),
	}
	if spec.Delay != "" {
		d, err := time.ParseDuration(spec.Delay)
		if err != nil {
			return nil, fmt.Errorf("region delay %q: %w", spec.Delay, err)
		}
		info.delay = d
	}
	*regions = append(*regions, info)

	if info.noSSR {
		info.promise.MarkNoSSR()
	} else {
		delay := info.delay
		fail := info.fail
		p := info.promise
		time.AfterFunc(delay, func() {
			if fail {
				p.Reject(errors.New("scenario region failed"))
				return
			}
			p.Resolve(nil)
		})
	}

	children := make([]any, 0, len(spec.Children))
	for _, c := range spec.Children {
		child, err := buildNode(c, regions)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	var fallback any
	if spec.Fallback != nil {
		fb, err := buildNode(*spec.Fallback, regions)
		if err != nil {
			return nil, err
		}
		fallback = fb
	}

	content := asyncssr.Component(func(s *asyncssr.Scope, p asyncssr.Props) (any, error) {
		if !info.promise.Settled() {
			return nil, asyncssr.Suspend(info.promise)
		}
		if _, err := info.promise.Result(); err != nil {
			return nil, err
		}
		return children, nil
	})

	return asyncssr.E(asyncssr.Suspense, asyncssr.Props{"fallback": fallback},
		asyncssr.E(content, nil)), nil
}
