package autoupdate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"gephgui/internal/daemon"
	"gephgui/internal/storage/models"
)

// Prompter asks the user a yes/no question.
type Prompter interface {
	Ask(ctx context.Context, title, body string) (bool, error)
}

// Stopper stops the supervised daemon before installing.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Installer launches an installer for the artifact at path.
type Installer interface {
	Install(ctx context.Context, path string) error
}

var supportedLanguages = language.NewMatcher([]language.Tag{
	language.English,
	language.Chinese,
})

// SystemLanguage reads the POSIX locale variables in priority order.
// Unparseable values such as "C" fall back to English.
func SystemLanguage() language.Tag {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		tag, err := language.Parse(strings.ReplaceAll(v, "_", "-"))
		if err != nil {
			return language.English
		}
		return tag
	}
	return language.English
}

// PromptText returns the localized install question for version.
func PromptText(lang language.Tag, version string) (title, body string) {
	_, index, _ := supportedLanguages.Match(lang)
	if index == 1 {
		return "迷雾通更新可用",
			fmt.Sprintf("迷雾通新版本可用 (%s)。安装此更新将停止当前迷雾通程序并运行安装程序。现在安装？", version)
	}
	return "Geph Update Available",
		fmt.Sprintf("A new version of Geph is available (%s). Installing this update will stop the current Geph program and run the installer. Install now?", version)
}

// InstallCommand returns the installer invocation for platform, or nil
// where installation is left to the package manager.
func InstallCommand(platform daemon.Platform, path string) *exec.Cmd {
	switch platform {
	case daemon.PlatformWindows:
		return exec.Command(path, "/SILENT")
	case daemon.PlatformMacOS:
		return exec.Command("open", path)
	default:
		return nil
	}
}

// CommandInstaller starts the platform installer without waiting for it.
type CommandInstaller struct {
	Platform daemon.Platform
}

func (i CommandInstaller) Install(_ context.Context, path string) error {
	cmd := InstallCommand(i.Platform, path)
	if cmd == nil {
		return nil
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch installer: %w", err)
	}
	return cmd.Process.Release()
}

// LinePrompter asks on a terminal: any answer starting with y is yes.
type LinePrompter struct {
	In  io.Reader
	Out io.Writer
}

func (p LinePrompter) Ask(ctx context.Context, title, body string) (bool, error) {
	fmt.Fprintf(p.Out, "%s\n%s [y/N] ", title, body)
	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(p.In).ReadString('\n')
		answer <- line
	}()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line := <-answer:
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y"), nil
	}
}

// PromptOutcome is what happened at startup.
type PromptOutcome string

const (
	PromptNone      PromptOutcome = "none"
	PromptDeclined  PromptOutcome = "declined"
	PromptInstalled PromptOutcome = "installed"
)

// PromptDeps are the collaborators of a startup prompt.
type PromptDeps struct {
	Cache     *Cache
	Current   *semver.Version
	Prompter  Prompter
	Installer Installer
	Daemon    Stopper
	// Exit terminates the process after the installer has launched.
	Exit     func(code int)
	Language language.Tag
	Events   EventRecorder
	Logger   *zap.Logger
}

// PromptCached offers a previously cached update. Only an artifact that is
// newer than the running build and still verifies against its hash is
// offered. A declined update stays cached for the next launch.
func PromptCached(ctx context.Context, deps PromptDeps) (PromptOutcome, error) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	meta, err := deps.Cache.LoadMetadata()
	if err != nil {
		log.Warn("discarded update metadata", zap.Error(err))
		return PromptNone, nil
	}
	if meta == nil {
		log.Debug("no cached update")
		return PromptNone, nil
	}

	version, err := ParseVersion(meta.Version)
	if err != nil {
		log.Debug("invalid cached update metadata", zap.Error(err))
		if err := deps.Cache.ClearMetadata(); err != nil {
			log.Warn("failed to clear update metadata", zap.Error(err))
		}
		return PromptNone, nil
	}
	if !version.GreaterThan(deps.Current) {
		return PromptNone, nil
	}

	if !fileExists(meta.DownloadPath) {
		log.Debug("cached update file is gone", zap.String("path", meta.DownloadPath))
		return PromptNone, nil
	}
	if ok, err := deps.Cache.Verify(meta.DownloadPath, meta.SHA256); err != nil || !ok {
		log.Warn("cached update failed verification", zap.String("path", meta.DownloadPath), zap.Error(err))
		if err := deps.Cache.ClearMetadata(); err != nil {
			log.Warn("failed to clear update metadata", zap.Error(err))
		}
		return PromptNone, nil
	}

	title, body := PromptText(deps.Language, meta.Version)
	yes, err := deps.Prompter.Ask(ctx, title, body)
	if err != nil {
		return PromptNone, fmt.Errorf("update prompt: %w", err)
	}
	if !yes {
		recordEvent(ctx, deps.Events, log, models.UpdateDeclined, meta.Version, "")
		return PromptDeclined, nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := deps.Daemon.Stop(stopCtx); err != nil {
		log.Warn("failed to stop daemon before update", zap.Error(err))
	}
	if err := deps.Installer.Install(ctx, meta.DownloadPath); err != nil {
		recordEvent(ctx, deps.Events, log, models.UpdateFailed, meta.Version, err.Error())
		return PromptNone, err
	}
	recordEvent(ctx, deps.Events, log, models.UpdateInstalled, meta.Version, "")

	log.Info("exiting for update installation", zap.String("version", meta.Version))
	if deps.Exit != nil {
		deps.Exit(0)
	}
	return PromptInstalled, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

func recordEvent(ctx context.Context, events EventRecorder, log *zap.Logger, result, version, message string) {
	if events == nil {
		return
	}
	event := &models.UpdateEvent{Result: result, Version: version, Message: message, CreatedAt: time.Now()}
	if err := events.RecordUpdateEvent(context.WithoutCancel(ctx), event); err != nil {
		log.Warn("failed to record update event", zap.Error(err))
	}
}
