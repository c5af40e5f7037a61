package dto

import (
	"encoding/json"
	"strings"
	"time"

	"polo/internal/model"
)

// ImageInfo is the view of one well image.
type ImageInfo struct {
	ID           model.ImageID      `json:"id"`
	Well         int                `json:"well"`
	Path         string             `json:"path,omitempty"`
	Placeholder  bool               `json:"placeholder"`
	Date         time.Time          `json:"date"`
	Spectrum     model.Spectrum     `json:"spectrum"`
	HumanClass   string             `json:"humanClass,omitempty"`
	MachineClass string             `json:"machineClass,omitempty"`
	Confidence   map[string]float64 `json:"confidence,omitempty"`
	Favorite     bool               `json:"favorite"`
	Cocktail     *CocktailInfo      `json:"cocktail,omitempty"`
	Next         model.ImageID      `json:"next,omitempty"`
	Previous     model.ImageID      `json:"previous,omitempty"`
	Alt          model.ImageID      `json:"alt,omitempty"`
}

// CocktailInfo describes the cocktail in a well.
type CocktailInfo struct {
	Number   string   `json:"number"`
	Code     string   `json:"code,omitempty"`
	PH       float64  `json:"pH,omitempty"`
	Reagents []string `json:"reagents,omitempty"`
}

// MarshalJSON formats the capture date the way the gallery shows it.
func (i ImageInfo) MarshalJSON() ([]byte, error) {
	type Alias ImageInfo
	date := ""
	if !i.Date.IsZero() {
		date = i.Date.Format("02-01-2006")
	}
	return json.Marshal(&struct {
		Date string `json:"date"`
		Alias
	}{
		Date:  date,
		Alias: (Alias)(i),
	})
}

// NewImageInfo builds the view of img. Confidence is only shown when it
// backs the machine label.
func NewImageInfo(img *model.Image) ImageInfo {
	info := ImageInfo{
		ID:           img.ID,
		Well:         img.WellNumber,
		Path:         img.Path,
		Placeholder:  img.IsPlaceholder(),
		Date:         img.Date,
		Spectrum:     img.Spectrum,
		HumanClass:   string(img.HumanClass),
		MachineClass: string(img.MachineClass),
		Favorite:     img.Favorite,
		Next:         img.Next,
		Previous:     img.Previous,
		Alt:          img.Alt,
	}
	if trusted := img.TrustedConfidence(); trusted != nil {
		info.Confidence = make(map[string]float64, len(trusted))
		for k, v := range trusted {
			info.Confidence[string(k)] = v
		}
	}
	if c := img.Cocktail; c != nil {
		info.Cocktail = &CocktailInfo{Number: c.Number, Code: c.CommercialCode, PH: c.PH}
		for _, r := range c.Reagents {
			info.Cocktail.Reagents = append(info.Cocktail.Reagents, strings.TrimSpace(r.Chemical+" "+r.Concentration))
		}
	}
	return info
}
