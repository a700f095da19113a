//go:build !windows

package daemon

import pkgerrors "gephgui/pkg/errors"

type noServices struct{}

// NewServiceController returns a controller that reports no installed services.
func NewServiceController() ServiceController {
	return noServices{}
}

func (noServices) Installed(string) bool        { return false }
func (noServices) Start(string) error           { return pkgerrors.ErrUnsupportedPlatform }
func (noServices) Stop(string) error            { return pkgerrors.ErrUnsupportedPlatform }
func (noServices) Running(string) (bool, error) { return false, pkgerrors.ErrUnsupportedPlatform }
