package xtal

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"polo/internal/model"
)

// ExportImages writes every inline image payload of run into dir and returns
// the written paths. Files keep the base name of their recorded path when
// there is one; a name already taken is prefixed with the well number. Names
// never leave dir.
func ExportImages(run *model.Run, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	used := make(map[string]bool)
	var written []string
	for i, img := range run.Images {
		if img == nil || len(img.InlineBytes) == 0 {
			continue
		}
		well := img.WellNumber
		if well == 0 {
			well = i + 1
		}
		name := uniqueName(used, exportName(run, img, well), well)
		used[name] = true

		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, img.InlineBytes, 0644); err != nil {
			return written, &IOError{Op: "write", Path: path, Err: err}
		}
		written = append(written, path)
	}
	return written, nil
}

// safeBase reduces name to a single path element, or "" when nothing
// usable is left.
func safeBase(name string) string {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	switch base {
	case ".", "..", "/":
		return ""
	}
	return base
}

func exportName(run *model.Run, img *model.Image, well int) string {
	if base := safeBase(img.Path); base != "" {
		return base
	}
	ext := ".jpg"
	if http.DetectContentType(img.InlineBytes) == "image/png" {
		ext = ".png"
	}
	prefix := safeBase(run.Name)
	if prefix == "" {
		prefix = "run"
	}
	return fmt.Sprintf("%s_well%04d%s", prefix, well, ext)
}

func uniqueName(used map[string]bool, name string, well int) string {
	if !used[name] {
		return name
	}
	prefixed := fmt.Sprintf("well%04d_%s", well, name)
	candidate := prefixed
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%d_%s", n, prefixed)
	}
	return candidate
}
