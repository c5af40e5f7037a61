// Package importer builds runs from image directories on disk.
package importer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"polo/internal/cocktail"
	"polo/internal/logger"
	"polo/internal/model"
)

// AllowedWellCounts are the plate formats HWI images.
var AllowedWellCounts = []int{24, 96, 192, 384, 786, 1536}

// AllowedExtensions are the image file types picked up from a directory.
var AllowedExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

var (
	ErrNotHWIDirectory = errors.New("not an HWI plate directory")
	ErrNotHWIImage     = errors.New("not an HWI image file name")
	ErrEmptyDirectory  = errors.New("directory holds no images")
)

// DirMeta is parsed from an HWI directory name such as
// "X0000012342024010209300-uvt": plate id, capture time, spectrum suffix.
type DirMeta struct {
	PlateID  string
	Date     time.Time
	Spectrum model.Spectrum
	RunName  string
}

// FileMeta is parsed from an HWI image file name: plate id, four-digit well,
// capture date, then free text.
type FileMeta struct {
	PlateID string
	Well    int
	Date    time.Time
}

// ParseDirName reads HWI metadata from a directory path.
func ParseDirName(dir string) (DirMeta, error) {
	name := filepath.Base(filepath.Clean(dir))
	if len(name) < 22 {
		return DirMeta{}, fmt.Errorf("%w: %s", ErrNotHWIDirectory, name)
	}
	stamp, _, _ := strings.Cut(name[10:], "-")
	date, err := time.Parse("200601021504", stamp)
	if err != nil {
		return DirMeta{}, fmt.Errorf("%w: %s: %v", ErrNotHWIDirectory, name, err)
	}
	meta := DirMeta{PlateID: name[:10], Date: date, RunName: name, Spectrum: model.SpectrumVisible}
	if i := strings.LastIndex(name, "-"); i >= 0 {
		meta.Spectrum = model.ParseSpectrum(name[i+1:])
	}
	return meta, nil
}

// ParseFileName reads HWI metadata from an image file path.
func ParseFileName(path string) (FileMeta, error) {
	name := filepath.Base(path)
	if len(name) < 22 {
		return FileMeta{}, fmt.Errorf("%w: %s", ErrNotHWIImage, name)
	}
	well, err := strconv.Atoi(name[10:14])
	if err != nil || well < 1 {
		return FileMeta{}, fmt.Errorf("%w: %s: bad well", ErrNotHWIImage, name)
	}
	date, err := time.Parse("20060102", name[14:22])
	if err != nil {
		return FileMeta{}, fmt.Errorf("%w: %s: %v", ErrNotHWIImage, name, err)
	}
	return FileMeta{PlateID: name[:10], Well: well, Date: date}, nil
}

// InferWellCount returns the smallest plate format holding maxWell.
func InferWellCount(maxWell int) int {
	for _, n := range AllowedWellCounts {
		if maxWell <= n {
			return n
		}
	}
	return AllowedWellCounts[len(AllowedWellCounts)-1]
}

// ValidWellCount reports whether n is a known plate format.
func ValidWellCount(n int) bool {
	for _, c := range AllowedWellCounts {
		if c == n {
			return true
		}
	}
	return false
}

// ListImages returns the allowed image files in dir, sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !AllowedExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// HWIOptions tune an HWI import. Zero values are derived from the directory.
type HWIOptions struct {
	Name     string
	Spectrum model.Spectrum
	NumWells int
	Menu     cocktail.Repository
	MenuName string
	Sample   string
}

// Importer turns directories into runs.
type Importer struct {
	logger *logger.Logger
}

// New creates an Importer.
func New(logger *logger.Logger) *Importer {
	return &Importer{logger: logger}
}

// ImportHWI reads an HWI plate directory. Images land at index well-1 and
// wells without a file get placeholder images.
func (im *Importer) ImportHWI(dir string, opts HWIOptions) (*model.Run, error) {
	meta, err := ParseDirName(dir)
	if err != nil {
		return nil, err
	}
	files, err := ListImages(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDirectory, dir)
	}

	parsed := make(map[int]FileMeta, len(files))
	paths := make(map[int]string, len(files))
	maxWell := 0
	for _, f := range files {
		fm, err := ParseFileName(f)
		if err != nil {
			im.logger.Warning("Skipping %s: %v", f, err)
			continue
		}
		parsed[fm.Well] = fm
		paths[fm.Well] = f
		maxWell = max(maxWell, fm.Well)
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDirectory, dir)
	}

	numWells := opts.NumWells
	if numWells == 0 {
		numWells = InferWellCount(maxWell)
	}
	spectrum := opts.Spectrum
	if spectrum == "" {
		spectrum = meta.Spectrum
	}
	name := opts.Name
	if name == "" {
		name = meta.RunName
	}
	menu := opts.Menu
	if menu == nil {
		menu = cocktail.None
	}

	run := &model.Run{
		Kind:         model.RunKindHWI,
		Name:         name,
		ImageDir:     dir,
		Date:         meta.Date,
		Spectrum:     spectrum,
		PlateID:      meta.PlateID,
		Sample:       opts.Sample,
		NumWells:     numWells,
		CocktailMenu: opts.MenuName,
		Images:       make([]*model.Image, numWells),
	}
	for well := 1; well <= numWells; well++ {
		img := &model.Image{
			WellNumber: well,
			Date:       meta.Date,
			Spectrum:   spectrum,
			PlateID:    meta.PlateID,
		}
		if fm, ok := parsed[well]; ok {
			img.Path = paths[well]
			img.Date = fm.Date
		}
		if c, ok := menu.Lookup(well); ok {
			img.Cocktail = &c
		}
		run.Images[well-1] = img
	}
	for well := range parsed {
		if well > numWells {
			im.logger.Warning("Well %d exceeds the %d-well plate of %s", well, numWells, name)
		}
	}

	missing := numWells - len(parsed)
	if missing > 0 {
		im.logger.Warning("Run %s is missing %d of %d images", name, missing, numWells)
	}
	im.logger.Info("Imported HWI run %s (%s, %d wells)", name, spectrum, numWells)
	return run, nil
}

// ImportGeneric reads any directory of images into a run, in file name order.
func (im *Importer) ImportGeneric(dir, name string, spectrum model.Spectrum, date time.Time) (*model.Run, error) {
	files, err := ListImages(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDirectory, dir)
	}
	if name == "" {
		name = filepath.Base(filepath.Clean(dir))
	}
	run := &model.Run{
		Kind:     model.RunKindGeneric,
		Name:     name,
		ImageDir: dir,
		Date:     date,
		Spectrum: spectrum,
	}
	for i, f := range files {
		run.Images = append(run.Images, &model.Image{
			WellNumber: i + 1,
			Path:       f,
			Date:       date,
			Spectrum:   spectrum,
		})
	}
	im.logger.Info("Imported run %s with %d images", name, len(files))
	return run, nil
}

// Import picks the HWI reader when the directory name parses as an HWI plate.
func (im *Importer) Import(dir string, opts HWIOptions) (*model.Run, error) {
	if _, err := ParseDirName(dir); err == nil {
		return im.ImportHWI(dir, opts)
	}
	return im.ImportGeneric(dir, opts.Name, opts.Spectrum, time.Time{})
}
