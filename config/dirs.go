package config

import (
	"os"
	"os/user"
)

// statDir reports whether path exists and is a directory. It never returns
// an error for "not found" - callers treat that the same as "not a
// directory" when walking a candidate list.
func statDir(path string) (bool, error) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return st.IsDir(), nil
}

// homeDirOf resolves the home directory of the named OS user, falling back
// to the current process user when name is empty.
func homeDirOf(name string) (string, error) {
	if name == "" {
		u, err := user.Current()
		if err != nil {
			return "", err
		}
		return u.HomeDir, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return "", err
	}
	return u.HomeDir, nil
}
