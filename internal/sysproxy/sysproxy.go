// Package sysproxy points the desktop's system proxy at the PAC file served
// by the daemon.
package sysproxy

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// DefaultPACURL is where the daemon serves its proxy auto-config file.
const DefaultPACURL = "http://127.0.0.1:9809/proxy.pac"

// runFunc executes one command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func run(ctx context.Context, name string, args ...string) ([]byte, error) {
	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return output, nil
}

// Configurator toggles PAC-based system proxy settings.
type Configurator struct {
	PACURL string
	log    *zap.Logger
	run    runFunc
}

// New returns a configurator for the current platform.
func New(pacURL string, log *zap.Logger) *Configurator {
	if pacURL == "" {
		pacURL = DefaultPACURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Configurator{PACURL: pacURL, log: log, run: run}
}

// Enable points the system proxy at PACURL.
func (c *Configurator) Enable(ctx context.Context) error {
	c.log.Info("enabling system proxy", zap.String("pac", c.PACURL))
	return enable(ctx, c.run, c.PACURL)
}

// Disable restores direct connections.
func (c *Configurator) Disable(ctx context.Context) error {
	c.log.Info("disabling system proxy")
	return disable(ctx, c.run)
}
