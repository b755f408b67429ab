package command

import (
	"fmt"
	"maps"
	"strings"
)

// Action names a device operation understood by the portal.
type Action string

// Actions shared by all device types.
const (
	ActionToggle  Action = "toggle"
	ActionUp      Action = "up"
	ActionDown    Action = "down"
	ActionStop    Action = "stop"
	ActionTrigger Action = "trigger"
)

// ReadOnlyMarker in place of a payload disables that action.
const ReadOnlyMarker = "READONLY"

// Template placeholders.
const (
	placeholderIndex = "{index}"
	placeholderPage  = "{page}"
)

// Descriptors maps an action to its rendered portal payload.
type Descriptors map[Action]string

// Payload returns the payload for action.
func (d Descriptors) Payload(action Action) (string, error) {
	p, ok := d[action]
	if !ok || p == "" {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedAction, action)
	}
	if p == ReadOnlyMarker {
		return "", fmt.Errorf("%w: %s", ErrReadOnly, action)
	}
	return p, nil
}

// ReadOnly reports whether no action can be dispatched.
func (d Descriptors) ReadOnly() bool {
	for _, p := range d {
		if p != "" && p != ReadOnlyMarker {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (d Descriptors) Clone() Descriptors {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}

// Table maps a device type name to its action templates.
type Table map[string]map[Action]string

// DefaultTable returns the templates used by the portal's visualisation.
// Function 01 toggles or raises, 02 stops and 03 lowers.
func DefaultTable() Table {
	toggle := "{index}+01+00+{page}"
	return Table{
		"Light":  {ActionToggle: toggle},
		"Dimmer": {ActionToggle: toggle},
		"Fan":    {ActionToggle: toggle},
		"Scene":  {ActionTrigger: toggle},
		"WindowCovering": {
			ActionUp:   toggle,
			ActionStop: "{index}+02+00+{page}",
			ActionDown: "{index}+03+00+{page}",
		},
	}
}

// WithOverrides returns a copy of t with the given templates replacing or
// extending the defaults. Keys are device type, then action name.
func (t Table) WithOverrides(overrides map[string]map[string]string) Table {
	out := make(Table, len(t)+len(overrides))
	for typ, actions := range t {
		out[typ] = maps.Clone(actions)
	}
	for typ, actions := range overrides {
		if out[typ] == nil {
			out[typ] = make(map[Action]string, len(actions))
		}
		for action, tmpl := range actions {
			out[typ][Action(action)] = tmpl
		}
	}
	return out
}

// Render expands the templates for deviceType. Types without templates,
// such as sensors, get an empty set.
func (t Table) Render(deviceType, index string, page int) Descriptors {
	actions := t[deviceType]
	out := make(Descriptors, len(actions))
	r := strings.NewReplacer(placeholderIndex, index, placeholderPage, FormatPage(page))
	for action, tmpl := range actions {
		out[action] = r.Replace(tmpl)
	}
	return out
}

// FormatPage renders a page number the way the portal expects it: "01", "02".
func FormatPage(page int) string {
	return fmt.Sprintf("%02d", page)
}

// DeviceKey builds the stable registry key for a portal element. An element
// id that already carries a page suffix is kept as is.
func DeviceKey(elementID string, page int) string {
	if strings.Contains(elementID, "_page") {
		return elementID
	}
	return elementID + "_page" + FormatPage(page)
}
