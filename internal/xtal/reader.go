package xtal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"polo/internal/model"
)

// Header is the metadata block preceding the body.
type Header struct {
	SaveTime time.Time
	Version  string
	Meta     map[string]string
}

// saveTimeLayouts covers files written by this package and older writers
// that used a space-separated timestamp.
var saveTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// Deserialize reads an xtal stream with the default registry.
func Deserialize(r io.Reader) (*model.Run, Header, error) {
	return DeserializeWith(r, DefaultRegistry())
}

// DeserializeWith reads an xtal stream resolving body tags through reg.
// The returned run carries no relationship links.
func DeserializeWith(r io.Reader, reg *Registry) (*model.Run, Header, error) {
	br := bufio.NewReader(r)
	header, err := readHeader(br)
	if err != nil {
		return nil, header, err
	}
	if header.Version != "" && header.Version != FormatVersion {
		return nil, header, corrupt(fmt.Sprintf("unsupported version %q", header.Version), nil)
	}

	var env envelope
	if err := json.NewDecoder(br).Decode(&env); err != nil {
		return nil, header, corrupt("malformed body", err)
	}
	v, err := reg.decode(&env)
	if err != nil {
		return nil, header, err
	}
	run, ok := v.(*model.Run)
	if !ok {
		return nil, header, corrupt(fmt.Sprintf("body holds %q, not a run", env.Type), nil)
	}
	return run, header, nil
}

// ReadHeader reads only the header block of an xtal stream.
func ReadHeader(r io.Reader) (Header, error) {
	return readHeader(bufio.NewReader(r))
}

func readHeader(br *bufio.Reader) (Header, error) {
	header := Header{Meta: make(map[string]string)}
	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return header, &IOError{Op: "read", Err: err}
		}
		trimmed := strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(trimmed, headerPrefix):
			key, value := splitHeader(strings.TrimPrefix(trimmed, headerPrefix))
			switch key {
			case keySaveTime:
				header.SaveTime = parseSaveTime(value)
			case keyVersion:
				header.Version = value
			default:
				header.Meta[key] = value
			}
		case trimmed == Separator:
			return header, nil
		default:
			return header, corrupt("missing header separator", nil)
		}
		if err == io.EOF {
			return header, corrupt("missing header separator", nil)
		}
	}
}

// splitHeader accepts both "KEY: value" and "KEY:value".
func splitHeader(s string) (string, string) {
	key, value, _ := strings.Cut(s, ":")
	return strings.TrimSpace(key), strings.TrimSpace(value)
}

func parseSaveTime(v string) time.Time {
	for _, layout := range saveTimeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ReadFile loads the run stored at path.
func ReadFile(path string) (*model.Run, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, &IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	run, header, err := Deserialize(f)
	if err != nil {
		var cerr *CorruptFormatError
		if errors.As(err, &cerr) {
			cerr.Path = path
		}
		var ioerr *IOError
		if errors.As(err, &ioerr) && ioerr.Path == "" {
			ioerr.Path = path
		}
		return nil, header, err
	}
	return run, header, nil
}
