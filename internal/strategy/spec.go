package strategy

import (
	_ "embed"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed strategies.yaml
var builtinYAML []byte

// ErrUnknownStrategy is returned for names not in the catalogue.
var ErrUnknownStrategy = errors.New("strategy: unknown strategy")

// Parameter types.
const (
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeSelect = "select"
)

// ParamSpec describes one strategy parameter and when it is shown.
type ParamSpec struct {
	Name      string      `yaml:"name" json:"name"`
	Label     string      `yaml:"label" json:"label"`
	Type      string      `yaml:"type" json:"type"`
	Default   interface{} `yaml:"default" json:"default"`
	Options   []string    `yaml:"options,omitempty" json:"options,omitempty"`
	Min       *float64    `yaml:"min,omitempty" json:"min,omitempty"`
	Max       *float64    `yaml:"max,omitempty" json:"max,omitempty"`
	VisibleIf []Condition `yaml:"visible_if,omitempty" json:"visible_if,omitempty"`
}

// StrategySpec is one entry of the catalogue.
type StrategySpec struct {
	Name   string      `yaml:"name" json:"name"`
	Label  string      `yaml:"label" json:"label"`
	Params []ParamSpec `yaml:"params" json:"params"`
}

// Catalogue holds the strategies offered to chart clients.
type Catalogue struct {
	byName map[string]*StrategySpec
}

type catalogueFile struct {
	Strategies []StrategySpec `yaml:"strategies"`
}

// Builtin returns the catalogue shipped with the binary.
func Builtin() *Catalogue {
	c, err := Parse(builtinYAML)
	if err != nil {
		panic(fmt.Sprintf("strategy: built-in catalogue: %v", err))
	}
	return c
}

// LoadFile reads a catalogue from a YAML file. An empty path returns the
// built-in catalogue.
func LoadFile(path string) (*Catalogue, error) {
	if path == "" {
		return Builtin(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("strategy: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("strategy: %s: %w", path, err)
	}
	log.Printf("[strategy] loaded %d strategies from %s", len(c.byName), path)
	return c, nil
}

// Parse decodes and validates a YAML catalogue.
func Parse(data []byte) (*Catalogue, error) {
	var f catalogueFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	c := &Catalogue{byName: make(map[string]*StrategySpec, len(f.Strategies))}
	for i := range f.Strategies {
		s := &f.Strategies[i]
		if err := s.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate strategy %q", s.Name)
		}
		c.byName[s.Name] = s
	}
	return c, nil
}

func (s *StrategySpec) validate() error {
	if s.Name == "" {
		return errors.New("strategy with empty name")
	}
	names := make(map[string]bool, len(s.Params))
	for _, p := range s.Params {
		if p.Name == "" || names[p.Name] {
			return fmt.Errorf("strategy %s: empty or duplicate param %q", s.Name, p.Name)
		}
		names[p.Name] = true
		switch p.Type {
		case TypeInt, TypeFloat, TypeBool:
		case TypeSelect:
			if len(p.Options) == 0 {
				return fmt.Errorf("strategy %s: select param %q has no options", s.Name, p.Name)
			}
		default:
			return fmt.Errorf("strategy %s: param %q has unknown type %q", s.Name, p.Name, p.Type)
		}
		if _, err := coerce(p, p.Default); err != nil {
			return fmt.Errorf("strategy %s: default: %w", s.Name, err)
		}
	}
	for _, p := range s.Params {
		for _, cond := range p.VisibleIf {
			if err := cond.Validate(); err != nil {
				return fmt.Errorf("strategy %s: param %q: %w", s.Name, p.Name, err)
			}
			if !names[cond.Field] {
				return fmt.Errorf("strategy %s: param %q depends on unknown field %q", s.Name, p.Name, cond.Field)
			}
		}
	}
	return nil
}

// Names returns the strategy names, sorted.
func (c *Catalogue) Names() []string {
	out := make([]string, 0, len(c.byName))
	for n := range c.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// List returns every strategy spec, sorted by name.
func (c *Catalogue) List() []StrategySpec {
	out := make([]StrategySpec, 0, len(c.byName))
	for _, n := range c.Names() {
		out = append(out, *c.byName[n])
	}
	return out
}

// Get looks up a strategy by name.
func (c *Catalogue) Get(name string) (*StrategySpec, error) {
	s, ok := c.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// Defaults returns every parameter's default value.
func (s *StrategySpec) Defaults() map[string]interface{} {
	out := make(map[string]interface{}, len(s.Params))
	for _, p := range s.Params {
		out[p.Name] = p.Default
	}
	return out
}

// merged overlays values on the defaults.
func (s *StrategySpec) merged(values map[string]interface{}) map[string]interface{} {
	m := s.Defaults()
	for k, v := range values {
		m[k] = v
	}
	return m
}

// Visible returns the parameters whose conditions hold for values, with
// unset parameters taking their defaults.
func (s *StrategySpec) Visible(values map[string]interface{}) []ParamSpec {
	m := s.merged(values)
	out := make([]ParamSpec, 0, len(s.Params))
	for _, p := range s.Params {
		if All(p.VisibleIf, m) {
			out = append(out, p)
		}
	}
	return out
}

// BuildParams produces the parameter map sent with a backtest: visible
// parameters only, defaults filled in, values coerced to their declared type.
func (s *StrategySpec) BuildParams(values map[string]interface{}) (map[string]interface{}, error) {
	m := s.merged(values)
	out := make(map[string]interface{})
	for _, p := range s.Visible(values) {
		v, err := coerce(p, m[p.Name])
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", s.Name, err)
		}
		out[p.Name] = v
	}
	for k := range values {
		if _, ok := out[k]; !ok {
			log.Printf("[strategy] %s: dropping hidden or unknown param %q", s.Name, k)
		}
	}
	return out, nil
}

func coerce(p ParamSpec, v interface{}) (interface{}, error) {
	switch p.Type {
	case TypeInt:
		f, ok := toFloat(v)
		if !ok || f != float64(int(f)) {
			return nil, fmt.Errorf("param %q: %v is not an integer", p.Name, v)
		}
		if err := p.inRange(f); err != nil {
			return nil, err
		}
		return int(f), nil
	case TypeFloat:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("param %q: %v is not a number", p.Name, v)
		}
		if err := p.inRange(f); err != nil {
			return nil, err
		}
		return f, nil
	case TypeBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(t))
			if err != nil {
				return nil, fmt.Errorf("param %q: %v is not a boolean", p.Name, v)
			}
			return b, nil
		}
		return nil, fmt.Errorf("param %q: %v is not a boolean", p.Name, v)
	case TypeSelect:
		s := fmt.Sprint(v)
		for _, o := range p.Options {
			if o == s {
				return s, nil
			}
		}
		return nil, fmt.Errorf("param %q: %q is not one of %v", p.Name, s, p.Options)
	}
	return nil, fmt.Errorf("param %q: unknown type %q", p.Name, p.Type)
}

func (p ParamSpec) inRange(f float64) error {
	if p.Min != nil && f < *p.Min {
		return fmt.Errorf("param %q: %v below minimum %v", p.Name, f, *p.Min)
	}
	if p.Max != nil && f > *p.Max {
		return fmt.Errorf("param %q: %v above maximum %v", p.Name, f, *p.Max)
	}
	return nil
}
