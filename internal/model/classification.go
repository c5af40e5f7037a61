package model

import (
	"fmt"
	"strings"
)

// Spectrum names the imaging technology used to capture a run.
type Spectrum string

const (
	SpectrumVisible Spectrum = "Visible"
	SpectrumUV      Spectrum = "UV"
	SpectrumSHG     Spectrum = "SHG"
	SpectrumOther   Spectrum = "Other"
)

// Rank orders spectra for ring construction: Visible first, then UV, SHG, Other.
func (s Spectrum) Rank() int {
	switch s {
	case SpectrumVisible:
		return 0
	case SpectrumUV:
		return 1
	case SpectrumSHG:
		return 2
	default:
		return 3
	}
}

// IsVisible reports whether s is the visible spectrum.
func (s Spectrum) IsVisible() bool {
	return s == SpectrumVisible
}

// ParseSpectrum maps user input and HWI directory suffixes to a Spectrum.
// HWI writes "jpg" and "vis" for visible light and "uvt" for UV-TPEF.
func ParseSpectrum(v string) Spectrum {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "visible", "vis", "jpg", "jpeg":
		return SpectrumVisible
	case "uv", "uvt", "uv-tpef":
		return SpectrumUV
	case "shg":
		return SpectrumSHG
	default:
		return SpectrumOther
	}
}

// Classification is a crystallization outcome label. The zero value means
// the image has not been classified.
type Classification string

const (
	ClassCrystals    Classification = "Crystals"
	ClassClear       Classification = "Clear"
	ClassPrecipitate Classification = "Precipitate"
	ClassOther       Classification = "Other"
)

// Classifications lists every valid label in display order.
var Classifications = []Classification{ClassCrystals, ClassClear, ClassPrecipitate, ClassOther}

// ValidationError reports a value outside an allowed set.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Field, e.Value)
}

// ParseClassification accepts a label case-insensitively. The empty string
// parses to the absent classification.
func ParseClassification(v string) (Classification, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", nil
	}
	for _, c := range Classifications {
		if strings.EqualFold(string(c), v) {
			return c, nil
		}
	}
	return "", &ValidationError{Field: "classification", Value: v}
}
