//go:build !windows

package daemon

import (
	"os"

	pkgerrors "gephgui/pkg/errors"
)

func isElevated() bool {
	return os.Geteuid() == 0
}

func launchElevated(string, []string) error {
	return pkgerrors.ErrUnsupportedPlatform
}
