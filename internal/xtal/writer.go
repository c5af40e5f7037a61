// Package xtal reads and writes the durable run file: a block of "<>KEY: value"
// header lines, a separator line, then a JSON body of tagged objects.
package xtal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"polo/internal/model"
)

const (
	// FormatVersion is written to every file and is the only version read back.
	FormatVersion = "1"
	// Extension is the conventional file suffix.
	Extension = ".xtal"

	headerPrefix = "<>"
	keySaveTime  = "SAVE TIME"
	keyVersion   = "VERSION"
)

// Separator divides the header block from the body.
var Separator = strings.Repeat("=", 79)

// Options control serialization.
type Options struct {
	// Meta is written as extra header lines; keys are upper-cased.
	Meta map[string]string
	// InlineImages embeds the bytes of path-only images whose files are readable.
	InlineImages bool
	// Now overrides the save timestamp.
	Now func() time.Time
}

// Serialize renders run into the xtal format.
func Serialize(run *model.Run, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, run, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes run to w. The live run is not modified: relationship fields
// are dropped from a private copy before encoding.
func Encode(w io.Writer, run *model.Run, opts Options) error {
	snapshot := run.Clone()
	snapshot.ClearLinks()
	if opts.InlineImages {
		inlineImages(snapshot)
	}

	env, err := encodeRun(snapshot)
	if err != nil {
		return err
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	bw := bufio.NewWriter(w)
	writeHeader(bw, keySaveTime, now().UTC().Format(time.RFC3339))
	writeHeader(bw, keyVersion, FormatVersion)
	keys := make([]string, 0, len(opts.Meta))
	for k := range opts.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := strings.ToUpper(strings.TrimSpace(k))
		if key == "" || key == keySaveTime || key == keyVersion {
			continue
		}
		writeHeader(bw, key, opts.Meta[k])
	}
	bw.WriteString(Separator)
	bw.WriteByte('\n')

	enc := json.NewEncoder(bw)
	if err := enc.Encode(env); err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.Name, err)
	}
	return bw.Flush()
}

func writeHeader(w *bufio.Writer, key, value string) {
	key = strings.ReplaceAll(key, ":", " ")
	value = strings.NewReplacer("\r", " ", "\n", " ").Replace(value)
	fmt.Fprintf(w, "%s%s: %s\n", headerPrefix, key, value)
}

func inlineImages(run *model.Run) {
	for _, img := range run.Images {
		if img == nil || len(img.InlineBytes) > 0 || img.Path == "" {
			continue
		}
		if data, err := os.ReadFile(img.Path); err == nil {
			img.InlineBytes = data
		}
	}
}

// WriteFile saves run at path. The file is written next to its target and
// renamed into place, so a failed save keeps the previous file.
func WriteFile(path string, run *model.Run, opts Options) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &IOError{Op: "mkdir", Path: dir, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".xtal-*")
	if err != nil {
		return &IOError{Op: "create", Path: path, Err: err}
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, run, opts); err != nil {
		tmp.Close()
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
