package discovery

import (
	"testing"

	"github.com/nerrad567/portal-bridge/internal/device"
	"github.com/nerrad567/portal-bridge/internal/portal/portaltest"
)

func TestParsePage(t *testing.T) {
	markup := portaltest.RenderPage(2,
		portaltest.Element{ID: "Single_1", Index: 4, Name: "  Kitchen  ", Icon: "icon-1", Active: true},
		portaltest.Element{ID: "Clock", Index: 5, Name: "Datum und Uhrzeit"},
		portaltest.Element{ID: "Shifter_3", Index: 9, Classes: []string{"visu-shifter"}},
		portaltest.Element{ID: "Fan_1", Index: 11, Name: "Bad", Speeds: 3, Status: "Stufe 2"},
	)
	markup += `<div class="visu-element" data-index="99"><span class="visu-element-name">No id</span></div>`

	elems, err := ParsePage([]byte(markup))
	if err != nil {
		t.Fatalf("ParsePage() error = %v", err)
	}
	if len(elems) != 3 {
		t.Fatalf("ParsePage() returned %d elements, want 3: %+v", len(elems), elems)
	}

	kitchen := elems[0]
	if kitchen.Name != "Kitchen" || kitchen.Index != "4" || !kitchen.Active || kitchen.Icon != "icon-1" {
		t.Errorf("kitchen = %+v", kitchen)
	}
	if elems[1].Name != "Shifter_3" {
		t.Errorf("name fallback = %q, want id", elems[1].Name)
	}
	if !elems[1].HasClass("visu-shifter") {
		t.Error("shifter class not parsed")
	}
	if elems[2].Speeds != 3 || elems[2].Status != "Stufe 2" {
		t.Errorf("fan = %+v", elems[2])
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		el   Element
		want device.DeviceType
	}{
		{"shifter", Element{ID: "x", Name: "Rollo", Classes: []string{"visu-element", "visu-shifter"}}, device.TypeWindowCovering},
		{"shifter wins over slider", Element{ID: "x", Name: "Rollo", Classes: []string{"visu-shifter", "visu-slider"}}, device.TypeWindowCovering},
		{"three speeds", Element{ID: "x", Name: "Bad", Speeds: 3}, device.TypeFan},
		{"fan icon", Element{ID: "x", Name: "Abluft", Icon: "icon-45"}, device.TypeFan},
		{"ventilation name", Element{ID: "x", Name: "Lüftung Keller"}, device.TypeFan},
		{"slider", Element{ID: "x", Name: "Spots", Classes: []string{"visu-slider"}}, device.TypeDimmer},
		{"extended slider id", Element{ID: "ExtendedSlider_2", Name: "Spots"}, device.TypeDimmer},
		{"temperature name", Element{ID: "x", Name: "Temperatur Wohnen"}, device.TypeTemperatureSensor},
		{"temp abbreviation", Element{ID: "x", Name: "Temp. Bad"}, device.TypeTemperatureSensor},
		{"celsius status", Element{ID: "x", Name: "Wohnen", Status: "21,5 °C"}, device.TypeTemperatureSensor},
		{"scene name", Element{ID: "x", Name: "Szene Abend", Icon: "icon-1"}, device.TypeScene},
		{"scene icon", Element{ID: "x", Name: "Kino", Icon: "icon-76"}, device.TypeScene},
		{"single id", Element{ID: "Single_4", Name: "Flur"}, device.TypeLight},
		{"toggle icon", Element{ID: "x", Name: "Flur", Icon: "icon-1"}, device.TypeLight},
		{"nothing", Element{ID: "x", Name: "Info"}, device.TypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.el); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestInitialState(t *testing.T) {
	tests := []struct {
		name string
		typ  device.DeviceType
		el   Element
		want device.State
	}{
		{"light on", device.TypeLight, Element{Active: true}, device.OnOff(true)},
		{"fan off", device.TypeFan, Element{}, device.OnOff(false)},
		{"dimmer level", device.TypeDimmer, Element{Active: true, Status: "60 %"}, device.Brightness(true, 60)},
		{"dimmer no level", device.TypeDimmer, Element{Active: true}, device.Brightness(true, 100)},
		{"covering", device.TypeWindowCovering, Element{Active: true}, device.Position(0, device.MotionStopped)},
		{"temperature", device.TypeTemperatureSensor, Element{Status: "-3.5°C"}, device.Temperature(-3.5)},
		{"temperature unreadable", device.TypeTemperatureSensor, Element{Status: "n/a"}, device.Temperature(0)},
		{"scene", device.TypeScene, Element{Active: true}, device.Scene(false)},
		{"unknown", device.TypeUnknown, Element{}, device.Unknown()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InitialState(tt.typ, tt.el)
			if got != tt.want {
				t.Errorf("InitialState() = %+v, want %+v", got, tt.want)
			}
			if err := device.CheckState(tt.typ, got); err != nil {
				t.Errorf("InitialState() does not fit type: %v", err)
			}
		})
	}
}
