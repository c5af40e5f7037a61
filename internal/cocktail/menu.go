// Package cocktail reads screening menus that assign a cocktail to each well.
package cocktail

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"polo/internal/model"
)

// Repository resolves the cocktail used in a well. It is passed to run
// construction explicitly.
type Repository interface {
	Lookup(well int) (model.CocktailRef, bool)
}

// None is a Repository without cocktails.
var None Repository = noMenu{}

type noMenu struct{}

func (noMenu) Lookup(int) (model.CocktailRef, bool) { return model.CocktailRef{}, false }

// Column layout of a menu row. Every other column except the formula holds
// reagent/concentration pairs.
const (
	colWell           = 0
	colNumber         = 1
	colCommercialCode = 2
	colFormula        = 4
	colPH             = 8

	headerRows = 2
)

var ErrMalformedMenu = errors.New("malformed cocktail menu")

// Menu is a cocktail screen keyed by 1-based well assignment.
type Menu struct {
	Name      string
	cocktails map[int]model.CocktailRef
}

// LoadMenu reads a menu CSV file. The menu is named after the file.
func LoadMenu(path string) (*Menu, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cocktail menu: %w", err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ReadMenu(f, name)
}

// ReadMenu parses menu rows after skipping the two header rows.
func ReadMenu(r io.Reader, name string) (*Menu, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	menu := &Menu{Name: name, cocktails: make(map[int]model.CocktailRef)}
	for line := 1; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMenu, err)
		}
		if line <= headerRows || isBlank(row) {
			continue
		}
		c, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedMenu, line, err)
		}
		menu.cocktails[c.WellAssignment] = c
	}
	return menu, nil
}

func parseRow(row []string) (model.CocktailRef, error) {
	well, err := strconv.Atoi(strings.TrimSpace(field(row, colWell)))
	if err != nil || well < 1 {
		return model.CocktailRef{}, fmt.Errorf("bad well assignment %q", field(row, colWell))
	}
	c := model.CocktailRef{
		WellAssignment: well,
		Number:         strings.TrimSpace(field(row, colNumber)),
		CommercialCode: strings.TrimSpace(field(row, colCommercialCode)),
	}
	if ph := strings.TrimSpace(field(row, colPH)); ph != "" {
		if v, err := strconv.ParseFloat(ph, 64); err == nil {
			c.PH = v
		}
	}

	var positions []int
	for i := range row {
		switch i {
		case colWell, colNumber, colCommercialCode, colFormula, colPH:
			continue
		}
		positions = append(positions, i)
	}
	// An odd trailing column has no concentration and is dropped.
	for i := 0; i+1 < len(positions); i += 2 {
		chem := strings.TrimSpace(row[positions[i]])
		if chem == "" {
			continue
		}
		c.Reagents = append(c.Reagents, model.Reagent{
			Chemical:      chem,
			Concentration: strings.TrimSpace(row[positions[i+1]]),
		})
	}
	return c, nil
}

func field(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

func isBlank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Lookup returns the cocktail assigned to well.
func (m *Menu) Lookup(well int) (model.CocktailRef, bool) {
	c, ok := m.cocktails[well]
	if !ok {
		return model.CocktailRef{}, false
	}
	return c.Clone(), true
}

// Len returns the number of cocktails in the menu.
func (m *Menu) Len() int {
	return len(m.cocktails)
}
