package dto

import (
	"strings"

	"polo/internal/model"
)

// ImageFilters are the query parameters narrowing a run's image list.
type ImageFilters struct {
	Classes   string
	Human     bool
	Machine   bool
	Favorites bool
}

// Model converts the filters to a model.ImageFilter. Unknown class names
// are ignored.
func (f ImageFilters) Model() model.ImageFilter {
	out := model.ImageFilter{Human: f.Human, Machine: f.Machine, FavoritesOnly: f.Favorites}
	for _, name := range strings.Split(f.Classes, ",") {
		if c, err := model.ParseClassification(strings.TrimSpace(name)); err == nil && c != "" {
			out.Classes = append(out.Classes, c)
		}
	}
	return out
}
