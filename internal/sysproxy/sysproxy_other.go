//go:build !linux && !darwin

package sysproxy

import "context"

// The daemon configures the proxy itself on the remaining platforms.

func enable(context.Context, runFunc, string) error { return nil }

func disable(context.Context, runFunc) error { return nil }
