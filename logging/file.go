package logging

import (
	"github.com/NYTimes/logrotate"
	"github.com/apex/log/handlers/text"
)

// NewFileHandler opens (creating if needed) the log file at path and
// returns an apex/log text handler writing to it. The file is reopened on
// SIGHUP so an external logrotate can rotate it; nothing here rotates the
// file by itself.
func NewFileHandler(path string) (*text.Handler, error) {
	w, err := logrotate.NewFile(path)
	if err != nil {
		return nil, err
	}
	return text.New(w), nil
}
