package command

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Blind entries carry one of these suffixes on the device key.
var blindSuffixes = map[string]Action{
	"_up":   ActionUp,
	"_stop": ActionStop,
	"_down": ActionDown,
}

// Mappings is the on-disk override file. Each group maps a device key to a
// payload, or to READONLY.
type Mappings struct {
	Lights      map[string]string `yaml:"lights,omitempty"`
	Blinds      map[string]string `yaml:"blinds,omitempty"`
	Dimmers     map[string]string `yaml:"dimmers,omitempty"`
	Ventilation map[string]string `yaml:"ventilation,omitempty"`
	Scenes      map[string]string `yaml:"scenes,omitempty"`
	Switches    map[string]string `yaml:"switches,omitempty"`
	Sensors     map[string]string `yaml:"sensors,omitempty"`
}

// LoadMappings reads a mappings file.
func LoadMappings(path string) (*Mappings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mappings file: %w", err)
	}
	var m Mappings
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing mappings file: %w", err)
	}
	return &m, nil
}

// Save writes m to path as YAML.
func (m *Mappings) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding mappings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing mappings file: %w", err)
	}
	return nil
}

// Len returns the number of entries across all groups.
func (m *Mappings) Len() int {
	n := 0
	for _, g := range m.groups() {
		n += len(g.entries)
	}
	return n
}

// Apply overlays the mapping for key onto d and returns the result.
// Blind entries address single actions; all other groups set the primary
// action for the device type (toggle, or trigger for scenes).
func (m *Mappings) Apply(key string, d Descriptors) Descriptors {
	if m == nil {
		return d
	}
	out := d.Clone()
	if out == nil {
		out = Descriptors{}
	}

	for suffix, action := range blindSuffixes {
		if p, ok := m.Blinds[key+suffix]; ok {
			out[action] = p
		}
	}

	for _, g := range m.groups() {
		p, ok := g.entries[key]
		if !ok {
			continue
		}
		if p == ReadOnlyMarker {
			for action := range out {
				out[action] = ReadOnlyMarker
			}
			if len(out) == 0 && !g.blind {
				out[g.action] = ReadOnlyMarker
			}
			continue
		}
		if !g.blind {
			out[g.action] = p
		}
	}
	return out
}

// Add records d for a device of the given type under the matching group.
func (m *Mappings) Add(key, deviceType string, d Descriptors) {
	set := func(group *map[string]string, k, v string) {
		if *group == nil {
			*group = make(map[string]string)
		}
		(*group)[k] = v
	}

	switch deviceType {
	case "WindowCovering":
		for suffix, action := range blindSuffixes {
			if p, ok := d[action]; ok {
				set(&m.Blinds, key+suffix, p)
			}
		}
	case "Scene":
		if p, ok := d[ActionTrigger]; ok {
			set(&m.Scenes, key, p)
		}
	case "TemperatureSensor":
		set(&m.Sensors, key, ReadOnlyMarker)
	case "Dimmer":
		set(&m.Dimmers, key, d[ActionToggle])
	case "Fan":
		set(&m.Ventilation, key, d[ActionToggle])
	case "Light":
		set(&m.Lights, key, d[ActionToggle])
	default:
		if p, ok := d[ActionToggle]; ok {
			set(&m.Switches, key, p)
		}
	}
}

// Keys returns every device key named in the file, sorted. Blind suffixes
// are stripped.
func (m *Mappings) Keys() []string {
	seen := make(map[string]struct{})
	for _, g := range m.groups() {
		for k := range g.entries {
			if g.blind {
				for suffix := range blindSuffixes {
					if trimmed, ok := strings.CutSuffix(k, suffix); ok {
						k = trimmed
						break
					}
				}
			}
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type mappingGroup struct {
	entries map[string]string
	action  Action
	blind   bool
}

func (m *Mappings) groups() []mappingGroup {
	return []mappingGroup{
		{entries: m.Lights, action: ActionToggle},
		{entries: m.Blinds, blind: true},
		{entries: m.Dimmers, action: ActionToggle},
		{entries: m.Ventilation, action: ActionToggle},
		{entries: m.Scenes, action: ActionTrigger},
		{entries: m.Switches, action: ActionToggle},
		{entries: m.Sensors, action: ActionToggle},
	}
}
