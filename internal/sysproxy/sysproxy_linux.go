package sysproxy

import "context"

func enable(ctx context.Context, run runFunc, pacURL string) error {
	return gsettingsEnable(ctx, run, pacURL)
}

func disable(ctx context.Context, run runFunc) error {
	return gsettingsDisable(ctx, run)
}
