package sysproxy

import "context"

func enable(ctx context.Context, run runFunc, pacURL string) error {
	return networksetupEnable(ctx, run, pacURL)
}

func disable(ctx context.Context, run runFunc) error {
	return networksetupDisable(ctx, run)
}
