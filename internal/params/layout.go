// SPDX-License-Identifier: MIT
package params

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Kind is the control a parameter is presented with.
type Kind int

const (
	Slider Kind = iota
	Menu
)

func (k Kind) String() string {
	if k == Menu {
		return "menu"
	}
	return "slider"
}

// Parameter is one entry of a Layout. IDs are 1-based and match the id
// field of the parameter messages the processor receives.
type Parameter struct {
	ID      int32
	Name    string
	Kind    Kind
	Range   Range
	Default float32 // raw value
	Suffix  string
	Items   []string // menu entries
}

// Layout is the ordered set of parameters a processor exposes, plus the
// current normalized value of each.
type Layout struct {
	mu     sync.RWMutex
	params []Parameter
	byID   map[int32]int
	values []float32
}

// NewLayout indexes params and sets every value to its default.
func NewLayout(params []Parameter) (*Layout, error) {
	l := &Layout{
		params: params,
		byID:   make(map[int32]int, len(params)),
		values: make([]float32, len(params)),
	}
	for i, p := range params {
		if p.ID <= 0 {
			return nil, fmt.Errorf("parameter %q: id must be positive, got %d", p.Name, p.ID)
		}
		if _, dup := l.byID[p.ID]; dup {
			return nil, fmt.Errorf("parameter %q: duplicate id %d", p.Name, p.ID)
		}
		l.byID[p.ID] = i
		l.values[i] = p.Range.ToNormalized(p.Range.Snap(p.Default))
	}
	return l, nil
}

// Len returns the number of parameters.
func (l *Layout) Len() int {
	if l == nil {
		return 0
	}
	return len(l.params)
}

// Parameters returns the parameters in layout order.
func (l *Layout) Parameters() []Parameter {
	if l == nil {
		return nil
	}
	return append([]Parameter(nil), l.params...)
}

// Lookup finds a parameter by id.
func (l *Layout) Lookup(id int32) (Parameter, bool) {
	if l == nil {
		return Parameter{}, false
	}
	i, ok := l.byID[id]
	if !ok {
		return Parameter{}, false
	}
	return l.params[i], true
}

// Convert maps a normalized value for id to the raw value. ok is false when
// the id is not part of the layout.
func (l *Layout) Convert(id int32, normalized float32) (float32, bool) {
	p, ok := l.Lookup(id)
	if !ok {
		return normalized, false
	}
	return p.Range.FromNormalized(normalized), true
}

// Set records the normalized value of id.
func (l *Layout) Set(id int32, normalized float32) bool {
	if l == nil {
		return false
	}
	i, ok := l.byID[id]
	if !ok {
		return false
	}
	l.mu.Lock()
	l.values[i] = clamp01(normalized)
	l.mu.Unlock()
	return true
}

// Value returns the recorded normalized value of id.
func (l *Layout) Value(id int32) (float32, bool) {
	if l == nil {
		return 0, false
	}
	i, ok := l.byID[id]
	if !ok {
		return 0, false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.values[i], true
}

// DefaultNormalized returns the normalized default of p.
func (p Parameter) DefaultNormalized() float32 {
	return p.Range.ToNormalized(p.Range.Snap(p.Default))
}

// --- YAML ---

type yamlParameter struct {
	ID       int32    `yaml:"id"`
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"` // slider | menu
	Min      float32  `yaml:"min"`
	Max      float32  `yaml:"max"`
	Mode     string   `yaml:"mode"`
	Interval float32  `yaml:"interval"`
	Default  float32  `yaml:"default"`
	Suffix   string   `yaml:"suffix"`
	Items    []string `yaml:"items"`
}

type yamlLayout struct {
	Parameters []yamlParameter `yaml:"parameters"`
}

// ErrEmptyMenu is returned for a menu parameter without items.
var ErrEmptyMenu = errors.New("menu parameter has no items")

// LoadLayout reads a layout file:
//
//	parameters:
//	  - id: 1
//	    name: Gain
//	    min: 0
//	    max: 2
//	    default: 1
//	  - id: 2
//	    name: Shape
//	    type: menu
//	    items: [sine, square]
//
// Omitted ids are assigned from the position in the list.
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parameter layout: %w", err)
	}
	return ParseLayout(data)
}

// ParseLayout decodes a layout document.
func ParseLayout(data []byte) (*Layout, error) {
	var doc yamlLayout
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse parameter layout: %w", err)
	}

	params := make([]Parameter, 0, len(doc.Parameters))
	for i, yp := range doc.Parameters {
		p := Parameter{
			ID:      yp.ID,
			Name:    yp.Name,
			Default: yp.Default,
			Suffix:  yp.Suffix,
		}
		if p.ID == 0 {
			p.ID = int32(i + 1)
		}

		switch strings.ToLower(strings.TrimSpace(yp.Type)) {
		case "", "slider":
			mode, err := ParseMode(yp.Mode)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", yp.Name, err)
			}
			p.Kind = Slider
			p.Range = NewRange(yp.Min, yp.Max, mode)
			if yp.Interval > 0 {
				p.Range.Interval = yp.Interval
			}
		case "menu":
			if len(yp.Items) == 0 {
				return nil, fmt.Errorf("parameter %q: %w", yp.Name, ErrEmptyMenu)
			}
			p.Kind = Menu
			p.Items = yp.Items
			p.Range = NewRange(0, float32(len(yp.Items)-1), Integer)
		default:
			return nil, fmt.Errorf("parameter %q: unknown type %q", yp.Name, yp.Type)
		}
		params = append(params, p)
	}
	return NewLayout(params)
}
