package discovery

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/nerrad567/portal-bridge/internal/device"
)

var (
	celsiusPattern = regexp.MustCompile(`^(-?\d+(?:[.,]\d+)?)\s*°\s*C$`)
	percentPattern = regexp.MustCompile(`^(\d{1,3})\s*%$`)
)

// Classify maps a tile's affordances to a device type. Rules are checked
// in order and the first match wins.
func Classify(e Element) device.DeviceType {
	name := strings.ToLower(e.Name)

	switch {
	case e.HasClass("visu-shifter"):
		return device.TypeWindowCovering
	case e.Speeds == 3 || e.Icon == "icon-45" || strings.Contains(name, "lüftung"):
		return device.TypeFan
	case e.HasClass("visu-slider") || strings.Contains(e.ID, "ExtendedSlider"):
		return device.TypeDimmer
	case strings.Contains(name, "temperatur") || strings.Contains(name, "temp."):
		return device.TypeTemperatureSensor
	case isCelsius(e.Status):
		return device.TypeTemperatureSensor
	case strings.Contains(name, "szene") || strings.Contains(name, "scene") ||
		e.Icon == "icon-11" || e.Icon == "icon-76":
		return device.TypeScene
	case strings.Contains(e.ID, "Single") || e.Icon != "":
		return device.TypeLight
	default:
		return device.TypeUnknown
	}
}

// InitialState derives the first known state of a tile of type t.
func InitialState(t device.DeviceType, e Element) device.State {
	switch t {
	case device.TypeLight, device.TypeFan:
		return device.OnOff(e.Active)
	case device.TypeDimmer:
		level, ok := parsePercent(e.Status)
		if !ok {
			level = 0
			if e.Active {
				level = 100
			}
		}
		return device.Brightness(e.Active, level)
	case device.TypeWindowCovering:
		return device.Position(0, device.MotionStopped)
	case device.TypeTemperatureSensor:
		c, _ := parseCelsius(e.Status)
		return device.Temperature(c)
	case device.TypeScene:
		return device.Scene(false)
	default:
		return device.Unknown()
	}
}

func isCelsius(s string) bool {
	_, ok := parseCelsius(s)
	return ok
}

// parseCelsius reads "21,5 °C" or "21.5°C".
func parseCelsius(s string) (float64, bool) {
	m := celsiusPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parsePercent(s string) (int, bool) {
	m := percentPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil || v > 100 {
		return 0, false
	}
	return v, true
}
