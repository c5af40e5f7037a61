// Package storage persists runs as xtal files in a configurable object store.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"polo/internal/config"
	"polo/internal/logger"
	"polo/internal/metrics"
	"polo/internal/model"
	"polo/internal/storage/core"
	"polo/internal/storage/fs"
	"polo/internal/storage/memory"
	"polo/internal/storage/s3"
	"polo/internal/xtal"
)

// Open builds the store selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config) (core.Store, error) {
	switch core.Driver(cfg.StoreDriver) {
	case core.DriverFilesystem, "":
		return fs.New(cfg.StoreRoot)
	case core.DriverS3:
		return s3.New(ctx, s3.Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
	case core.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %s", cfg.StoreDriver)
	}
}

// Key returns the object key a run is saved under.
func Key(name string) string {
	return strings.ReplaceAll(name, "/", "_") + xtal.Extension
}

// RunStore reads and writes xtal files through a core.Store.
type RunStore struct {
	store  core.Store
	reg    *xtal.Registry
	logger *logger.Logger
}

// NewRunStore wraps store.
func NewRunStore(store core.Store, logger *logger.Logger) *RunStore {
	return &RunStore{store: store, reg: xtal.DefaultRegistry(), logger: logger}
}

// Driver reports the backing store driver.
func (s *RunStore) Driver() core.Driver { return s.store.Driver() }

// Save serializes run and stores it under Key(run.Name). The caller must
// hold the run lock.
func (s *RunStore) Save(ctx context.Context, run *model.Run, opts xtal.Options) (core.Info, error) {
	info, err := s.save(ctx, run, opts)
	metrics.XtalOps.WithLabelValues("save", metrics.Result(err)).Inc()
	return info, err
}

func (s *RunStore) save(ctx context.Context, run *model.Run, opts xtal.Options) (core.Info, error) {
	data, err := xtal.Serialize(run, opts)
	if err != nil {
		return core.Info{}, err
	}
	key := Key(run.Name)
	info, err := s.store.Put(ctx, key, bytes.NewReader(data), core.PutOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return core.Info{}, &xtal.IOError{Op: "write", Path: key, Err: err}
	}
	s.logger.Info("Saved run %s to %s (%d bytes)", run.Name, key, info.Size)
	return info, nil
}

// Load reads the run saved under name.
func (s *RunStore) Load(ctx context.Context, name string) (*model.Run, xtal.Header, error) {
	run, header, err := s.LoadKey(ctx, Key(name))
	return run, header, err
}

// LoadKey reads the run stored at key.
func (s *RunStore) LoadKey(ctx context.Context, key string) (*model.Run, xtal.Header, error) {
	run, header, err := s.load(ctx, key)
	metrics.XtalOps.WithLabelValues("load", metrics.Result(err)).Inc()
	return run, header, err
}

func (s *RunStore) load(ctx context.Context, key string) (*model.Run, xtal.Header, error) {
	_, rc, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, xtal.Header{}, &xtal.IOError{Op: "read", Path: key, Err: err}
	}
	defer rc.Close()

	run, header, err := xtal.DeserializeWith(rc, s.reg)
	if err != nil {
		var cf *xtal.CorruptFormatError
		if errors.As(err, &cf) {
			cf.Path = key
		}
		return nil, header, err
	}
	return run, header, nil
}

// Delete removes the saved copy of name.
func (s *RunStore) Delete(ctx context.Context, name string) (bool, error) {
	return s.store.Delete(ctx, Key(name))
}

// List returns the stored xtal files.
func (s *RunStore) List(ctx context.Context) ([]core.Info, error) {
	infos, err := s.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, info := range infos {
		if strings.HasSuffix(info.Key, xtal.Extension) {
			out = append(out, info)
		}
	}
	return out, nil
}
