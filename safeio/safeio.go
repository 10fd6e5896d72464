// Package safeio implements the temp-write-then-rename idiom used to
// replace the authorized_keys file (§4.5) without ever exposing a
// partially-written version of it to a concurrent reader.
package safeio

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"emperror.dev/errors"
	"github.com/google/uuid"
)

// WriteFile writes data to a sibling temp file named "<path>tmp<uuid>~",
// optionally chowns it to ownerUser (no-op if ownerUser is empty or lookup
// fails - permission problems are surfaced to the caller via the final
// rename/write errors instead), then renames it over path. The parent
// directory is created (and chowned the same way) if it doesn't exist yet.
func WriteFile(path string, data []byte, perm os.FileMode, ownerUser string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WithMessagef(err, "safeio: failed to create parent directory %s", dir)
		}
		chown(dir, ownerUser)
	}

	tmp := fmt.Sprintf("%stmp%s~", path, uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return errors.WithMessagef(err, "safeio: failed to create temp file %s", tmp)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.WithMessagef(err, "safeio: failed to write temp file %s", tmp)
	}

	if ownerUser != "" {
		if u, err := user.Lookup(ownerUser); err == nil {
			uid, _ := strconv.Atoi(u.Uid)
			gid, _ := strconv.Atoi(u.Gid)
			_ = f.Chown(uid, gid)
		}
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.WithMessagef(err, "safeio: failed to close temp file %s", tmp)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.WithMessagef(err, "safeio: failed to rename %s to %s", tmp, path)
	}

	return nil
}

func chown(dir, ownerUser string) {
	if ownerUser == "" {
		return
	}
	u, err := user.Lookup(ownerUser)
	if err != nil {
		return
	}
	uid, _ := strconv.Atoi(u.Uid)
	gid, _ := strconv.Atoi(u.Gid)
	_ = os.Chown(dir, uid, gid)
}
