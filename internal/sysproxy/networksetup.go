package sysproxy

import (
	"context"
	"fmt"
	"strings"
)

// networksetupEnable sets the auto-proxy URL on every enabled network service.
func networksetupEnable(ctx context.Context, run runFunc, pacURL string) error {
	services, err := networkServices(ctx, run)
	if err != nil {
		return err
	}
	for _, svc := range services {
		if _, err := run(ctx, "networksetup", "-setautoproxyurl", svc, pacURL); err != nil {
			return fmt.Errorf("failed to set auto proxy on %s: %w", svc, err)
		}
		if _, err := run(ctx, "networksetup", "-setautoproxystate", svc, "on"); err != nil {
			return fmt.Errorf("failed to enable auto proxy on %s: %w", svc, err)
		}
	}
	return nil
}

// networksetupDisable turns the auto proxy off everywhere, reporting the
// first failure after trying all services.
func networksetupDisable(ctx context.Context, run runFunc) error {
	services, err := networkServices(ctx, run)
	if err != nil {
		return err
	}
	var firstErr error
	for _, svc := range services {
		if _, err := run(ctx, "networksetup", "-setautoproxystate", svc, "off"); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func networkServices(ctx context.Context, run runFunc) ([]string, error) {
	out, err := run(ctx, "networksetup", "-listallnetworkservices")
	if err != nil {
		return nil, fmt.Errorf("failed to detect network services: %w", err)
	}
	services := parseNetworkServices(string(out))
	if len(services) == 0 {
		return nil, fmt.Errorf("no active network services found")
	}
	return services, nil
}

// parseNetworkServices skips the header line and disabled services, which
// networksetup marks with a leading asterisk.
func parseNetworkServices(out string) []string {
	var services []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "An asterisk") || strings.HasPrefix(line, "*") {
			continue
		}
		services = append(services, line)
	}
	return services
}
