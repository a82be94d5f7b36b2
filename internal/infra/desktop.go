package infra

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	"go.uber.org/zap"
	"gopkg.in/ini.v1"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// DesktopLabelRegistry implements domain.LabelRegistry from XDG .desktop
// entries. A package matches an entry by file name, Exec binary or
// StartupWMClass.
type DesktopLabelRegistry struct {
	dirs   []string
	logger *zap.Logger

	once  sync.Once
	names map[string]string
}

// NewDesktopLabelRegistry creates a registry over dirs. With no dirs the
// standard XDG application directories are used.
func NewDesktopLabelRegistry(logger *zap.Logger, dirs ...string) *DesktopLabelRegistry {
	if len(dirs) == 0 {
		dirs = DefaultApplicationDirs()
	}
	return &DesktopLabelRegistry{dirs: dirs, logger: logger}
}

// DefaultApplicationDirs returns the XDG application directories, most
// specific first. Under sudo the invoking user's directory leads.
func DefaultApplicationDirs() []string {
	dirs := slices.Clone(xdg.ApplicationDirs)

	userDir := filepath.Join(GetRealUserHome(), ".local", "share", "applications")
	if !slices.Contains(dirs, userDir) {
		dirs = append([]string{userDir}, dirs...)
	}
	return dirs
}

// ResolveLabel returns the Name= of the matching entry.
func (r *DesktopLabelRegistry) ResolveLabel(packageID string) (string, error) {
	r.once.Do(r.load)

	key := strings.ToLower(strings.TrimSpace(packageID))
	if name, ok := r.names[key]; ok {
		return name, nil
	}
	return "", fmt.Errorf("no desktop entry for %s", packageID)
}

func (r *DesktopLabelRegistry) load() {
	r.names = make(map[string]string)

	// Later directories must not override earlier ones, so walk in reverse.
	for i := len(r.dirs) - 1; i >= 0; i-- {
		matches, err := filepath.Glob(filepath.Join(r.dirs[i], "*.desktop"))
		if err != nil {
			continue
		}
		for _, path := range matches {
			entry, err := parseDesktopEntry(path)
			if err != nil {
				r.logger.Debug("skipping desktop entry", zap.String("path", path), zap.Error(err))
				continue
			}
			if entry.name == "" {
				continue
			}
			for _, k := range entry.keys(path) {
				r.names[k] = entry.name
			}
		}
	}

	r.logger.Debug("desktop entries loaded", zap.Int("keys", len(r.names)))
}

type desktopEntry struct {
	name    string
	exec    string
	wmClass string
}

func (e desktopEntry) keys(path string) []string {
	keys := []string{strings.ToLower(strings.TrimSuffix(filepath.Base(path), ".desktop"))}
	if e.exec != "" {
		keys = append(keys, strings.ToLower(e.exec))
	}
	if e.wmClass != "" {
		keys = append(keys, strings.ToLower(e.wmClass))
	}
	return keys
}

// desktopLoadOptions matches the desktop entry syntax: only "=" separates
// keys, and "#" or ";" inside values (Categories=A;B;) are literal.
var desktopLoadOptions = ini.LoadOptions{
	KeyValueDelimiters:      "=",
	IgnoreInlineComment:     true,
	SkipUnrecognizableLines: true,
}

// parseDesktopEntry reads the [Desktop Entry] group of a .desktop file.
// Entries marked NoDisplay or Hidden come back empty.
func parseDesktopEntry(path string) (desktopEntry, error) {
	file, err := ini.LoadSources(desktopLoadOptions, path)
	if err != nil {
		return desktopEntry{}, err
	}
	group, err := file.GetSection("Desktop Entry")
	if err != nil {
		return desktopEntry{}, fmt.Errorf("%s: %w", path, err)
	}
	if group.Key("NoDisplay").MustBool(false) || group.Key("Hidden").MustBool(false) {
		return desktopEntry{}, nil
	}

	return desktopEntry{
		name:    group.Key("Name").String(),
		exec:    execBinary(group.Key("Exec").String()),
		wmClass: group.Key("StartupWMClass").String(),
	}, nil
}

// execBinary returns the base name of the program in an Exec= line,
// skipping an "env VAR=x" prefix.
func execBinary(execLine string) string {
	fields := strings.Fields(execLine)
	for i := 0; i < len(fields); i++ {
		f := strings.Trim(fields[i], `"`)
		if f == "env" || strings.Contains(f, "=") {
			continue
		}
		return filepath.Base(f)
	}
	return ""
}

// Ensure DesktopLabelRegistry implements domain.LabelRegistry.
var _ domain.LabelRegistry = (*DesktopLabelRegistry)(nil)
