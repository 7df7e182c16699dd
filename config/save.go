package config

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// fileVersion is incremented when the on-disk bundle format changes.
const fileVersion = 1

// fileFormat is the on-disk representation of a persisted bundle.
type fileFormat struct {
	Version int
	SavedAt int64
	Params  map[string]any
}

func init() {
	gob.Register([]any{})
	gob.Register(map[string]any{})
}

// Save writes p to path using encoding/gob. The write is atomic: a temp file in
// the same directory is renamed over the target. Keys holding nil are omitted,
// which every *Or accessor reads the same way as an explicit nil.
func Save(p Params, path string) error {
	if path == "" {
		return errors.New("empty config path")
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "mkdir %s", dir)
		}
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return errors.Wrap(err, "create temp config file")
	}
	tmpName := tmpFile.Name()
	defer func() {
		tmpFile.Close()
		_ = os.Remove(tmpName)
	}()

	body := make(map[string]any, len(p))
	for k, v := range p {
		if v != nil {
			body[k] = v
		}
	}
	ff := fileFormat{Version: fileVersion, SavedAt: time.Now().Unix(), Params: body}
	if err := gob.NewEncoder(tmpFile).Encode(&ff); err != nil {
		return errors.Wrap(err, "encode config to temp file")
	}
	if err := tmpFile.Sync(); err != nil {
		klog.Warningf("sync temp config file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		return errors.Wrap(err, "close temp config file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "rename temp config to target")
	}
	return nil
}

// Load reads a bundle written by Save.
func Load(path string) (Params, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open config file %s", path)
	}
	defer fh.Close()
	var ff fileFormat
	if err := gob.NewDecoder(fh).Decode(&ff); err != nil {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}
	if ff.Version != fileVersion {
		return nil, errors.Wrapf(ErrConfigVersion, "file=%d expected=%d", ff.Version, fileVersion)
	}
	return Params(ff.Params), nil
}
