package common

import "errors"

// ErrModulePaused is returned by Guard when the module is administratively paused.
var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a fixed set of paused module names, typically loaded from
// service configuration.
type StaticPauses map[string]bool

// NewStaticPauses builds a pause set from module names.
func NewStaticPauses(modules ...string) StaticPauses {
	out := make(StaticPauses, len(modules))
	for _, m := range modules {
		if m == "" {
			continue
		}
		out[m] = true
	}
	return out
}

// IsPaused implements PauseView.
func (s StaticPauses) IsPaused(module string) bool {
	return s[module]
}
