package discovery

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Element is one device tile as found on a page, before classification.
type Element struct {
	ID      string
	Index   string
	Name    string
	Classes []string

	// Icon is the first icon-* class of the tile's .visu-icon, if any.
	Icon    string
	HasIcon bool
	Active  bool
	Status  string
	Speeds  int
}

// HasClass reports whether the tile carries class c.
func (e Element) HasClass(c string) bool {
	for _, have := range e.Classes {
		if have == c {
			return true
		}
	}
	return false
}

// informational names are clock and date displays, not devices.
var informational = []string{"Datum", "Uhrzeit"}

// ParsePage extracts the device tiles of one page. Tiles without an id,
// with an empty name or showing date and time are skipped.
func ParsePage(markup []byte) ([]Element, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parsing page markup: %w", err)
	}

	var out []Element
	doc.Find(".visu-element").Each(func(_ int, s *goquery.Selection) {
		id, ok := s.Attr("id")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return
		}

		e := Element{
			ID:      id,
			Index:   strings.TrimSpace(s.AttrOr("data-index", "")),
			Classes: strings.Fields(s.AttrOr("class", "")),
		}

		if name := s.Find(".visu-element-name").First(); name.Length() > 0 {
			e.Name = strings.TrimSpace(name.Text())
		} else {
			e.Name = id
		}
		if e.Name == "" || isInformational(e.Name) {
			return
		}

		if icon := s.Find(".visu-icon").First(); icon.Length() > 0 {
			e.HasIcon = true
			e.Active = icon.HasClass("btn-active")
			for _, c := range strings.Fields(icon.AttrOr("class", "")) {
				if strings.HasPrefix(c, "icon-") {
					e.Icon = c
					break
				}
			}
		}

		e.Status = strings.TrimSpace(s.Find(".visu-status-text").First().Text())
		e.Speeds = s.Find("[data-speed]").Length()

		out = append(out, e)
	})
	return out, nil
}

func isInformational(name string) bool {
	for _, w := range informational {
		if strings.Contains(name, w) {
			return true
		}
	}
	return false
}
