package sysproxy

import (
	"context"
	"fmt"
)

const gnomeProxySchema = "org.gnome.system.proxy"

// gsettingsEnable sets the GNOME proxy to automatic mode using pacURL.
func gsettingsEnable(ctx context.Context, run runFunc, pacURL string) error {
	commands := [][]string{
		{"gsettings", "set", gnomeProxySchema, "autoconfig-url", pacURL},
		{"gsettings", "set", gnomeProxySchema, "mode", "auto"},
	}
	for _, args := range commands {
		if _, err := run(ctx, args[0], args[1:]...); err != nil {
			return fmt.Errorf("failed to configure GNOME proxy: %w", err)
		}
	}
	return nil
}

func gsettingsDisable(ctx context.Context, run runFunc) error {
	if _, err := run(ctx, "gsettings", "set", gnomeProxySchema, "mode", "none"); err != nil {
		return fmt.Errorf("failed to reset GNOME proxy: %w", err)
	}
	return nil
}
