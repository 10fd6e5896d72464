package logging

import "github.com/apex/log"

// WithDefaultFields wraps next so every entry it sees is first annotated
// with defaults for any field name the entry doesn't already set itself.
// Used to stamp every line this process emits with a session id and PID
// without threading that context through every call site.
type WithDefaultFields struct {
	next     log.Handler
	defaults log.Fields
}

func NewWithDefaultFields(next log.Handler, defaults log.Fields) *WithDefaultFields {
	return &WithDefaultFields{next: next, defaults: defaults}
}

func (h *WithDefaultFields) HandleLog(e *log.Entry) error {
	merged := make(log.Fields, len(h.defaults)+len(e.Fields))
	for k, v := range h.defaults {
		merged[k] = v
	}
	for _, name := range e.Fields.Names() {
		merged[name] = e.Fields.Get(name)
	}
	annotated := *e
	annotated.Fields = merged
	return h.next.HandleLog(&annotated)
}

var _ log.Handler = (*WithDefaultFields)(nil)
