package toolkit

import (
	"errors"
	goplugin "plugin"
)

// Loader resolves toolkit binaries into Toolkit implementations.
type Loader interface {
	Load(path string) (Toolkit, error)
}

// GoPluginLoader uses the Go standard library plugin mechanism to dynamically load modules.
type GoPluginLoader struct{}

// Load opens the shared object and searches for a `Toolkit` symbol implementing the Toolkit interface.
func (GoPluginLoader) Load(path string) (Toolkit, error) {
	if path == "" {
		return nil, errors.New("toolkit path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	symbol, err := so.Lookup("Toolkit")
	if err != nil {
		return nil, err
	}
	switch tk := symbol.(type) {
	case Toolkit:
		return tk, nil
	case *Toolkit:
		if tk == nil {
			return nil, errors.New("toolkit symbol is nil")
		}
		return *tk, nil
	case func() Toolkit:
		return tk(), nil
	default:
		return nil, errors.New("toolkit symbol must implement toolkit.Toolkit")
	}
}
