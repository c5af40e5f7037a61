package model

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// ImageID identifies an image inside an Arena. The empty id means "no link".
type ImageID string

// NewImageID returns a fresh random image id.
func NewImageID() ImageID {
	return ImageID(uuid.NewString())
}

// Image is a single well photograph and its classification state.
type Image struct {
	ID            ImageID
	WellNumber    int
	Path          string
	InlineBytes   []byte
	Date          time.Time
	Spectrum      Spectrum
	PlateID       string
	Cocktail      *CocktailRef
	HumanClass    Classification
	MachineClass  Classification
	ConfidenceMap map[Classification]float64
	Favorite      bool

	// Date axis.
	Next     ImageID
	Previous ImageID
	// Spectrum axis.
	Alt ImageID
}

// SetHumanClass stores a human classification. Values outside the fixed
// label set clear the field instead of failing.
func (i *Image) SetHumanClass(label string) {
	c, err := ParseClassification(label)
	if err != nil {
		i.HumanClass = ""
		return
	}
	i.HumanClass = c
}

// SetMachineClass stores a classifier label, clearing the field on invalid input.
func (i *Image) SetMachineClass(label string) {
	c, err := ParseClassification(label)
	if err != nil {
		i.MachineClass = ""
		return
	}
	i.MachineClass = c
}

// TrustedConfidence returns the confidence map only when it covers the
// current machine classification.
func (i *Image) TrustedConfidence() map[Classification]float64 {
	if i.MachineClass == "" || i.ConfidenceMap == nil {
		return nil
	}
	if _, ok := i.ConfidenceMap[i.MachineClass]; !ok {
		return nil
	}
	return i.ConfidenceMap
}

// IsPlaceholder reports whether the image stands in for a missing well.
func (i *Image) IsPlaceholder() bool {
	return i.Path == "" && len(i.InlineBytes) == 0
}

// Bytes returns the inline payload, falling back to reading Path.
func (i *Image) Bytes() ([]byte, error) {
	if len(i.InlineBytes) > 0 {
		return i.InlineBytes, nil
	}
	if i.Path == "" {
		return nil, fmt.Errorf("image %d has no data", i.WellNumber)
	}
	data, err := os.ReadFile(i.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", i.Path, err)
	}
	return data, nil
}

// ClearLinks drops every relationship field.
func (i *Image) ClearLinks() {
	i.Next, i.Previous, i.Alt = "", "", ""
}

// Clone deep-copies the image, relationship ids included.
func (i *Image) Clone() *Image {
	c := *i
	if i.InlineBytes != nil {
		c.InlineBytes = append([]byte(nil), i.InlineBytes...)
	}
	if i.ConfidenceMap != nil {
		c.ConfidenceMap = make(map[Classification]float64, len(i.ConfidenceMap))
		for k, v := range i.ConfidenceMap {
			c.ConfidenceMap[k] = v
		}
	}
	if i.Cocktail != nil {
		ref := i.Cocktail.Clone()
		c.Cocktail = &ref
	}
	return &c
}

// Matches applies an ImageFilter to the image.
func (i *Image) Matches(f ImageFilter) bool {
	if f.FavoritesOnly && !i.Favorite {
		return false
	}
	if len(f.Classes) == 0 {
		return true
	}
	if !f.Human && !f.Machine {
		return true
	}
	for _, c := range f.Classes {
		if f.Human && i.HumanClass == c {
			return true
		}
		if f.Machine && i.MachineClass == c {
			return true
		}
	}
	return false
}

// ImageFilter narrows a run's images by classification and favorite flag.
type ImageFilter struct {
	Classes       []Classification
	Human         bool
	Machine       bool
	FavoritesOnly bool
}
