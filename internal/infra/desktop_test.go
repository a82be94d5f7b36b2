package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adrg/xdg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeDesktopFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestDesktopLabelRegistry(t *testing.T) {
	user := filepath.Join(t.TempDir(), "user")
	system := filepath.Join(t.TempDir(), "system")

	writeDesktopFile(t, system, "firefox.desktop", `[Desktop Entry]
Name=Firefox Web Browser
Name[de]=Firefox-Webbrowser
Exec=/usr/lib/firefox/firefox %u

[Desktop Action new-window]
Name=Open a New Window
`)
	writeDesktopFile(t, system, "org.telegram.desktop.desktop", `[Desktop Entry]
Name=Telegram
Exec=env QT_QPA_PLATFORM=xcb telegram-desktop -- %u
StartupWMClass=TelegramDesktop
`)
	writeDesktopFile(t, system, "hidden.desktop", `[Desktop Entry]
Name=Hidden Tool
NoDisplay=true
`)
	writeDesktopFile(t, system, "gimp.desktop", `# GIMP launcher
[Desktop Entry]
Type=Application
Name=GNU Image Manipulation Program
Exec=gimp-2.10 %U
Categories=Graphics;2DGraphics;RasterGraphics;
Keywords=GIMP;graphic;design;illustration;painting;
`)
	writeDesktopFile(t, system, "broken.desktop", `[Other Group]
Name=Not An Entry
`)
	writeDesktopFile(t, user, "firefox.desktop", `[Desktop Entry]
Name=My Firefox
Exec=firefox
`)

	reg := NewDesktopLabelRegistry(zap.NewNop(), user, system)

	tests := []struct {
		pkg     string
		want    string
		wantErr bool
	}{
		{pkg: "firefox", want: "My Firefox"},
		{pkg: "telegram-desktop", want: "Telegram"},
		{pkg: "telegramdesktop", want: "Telegram"},
		{pkg: "org.telegram.desktop", want: "Telegram"},
		{pkg: "gimp-2.10", want: "GNU Image Manipulation Program"},
		{pkg: "hidden", wantErr: true},
		{pkg: "broken", wantErr: true},
		{pkg: "unknown", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.pkg, func(t *testing.T) {
			got, err := reg.ResolveLabel(tt.pkg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecBinary(t *testing.T) {
	assert.Equal(t, "firefox", execBinary("/usr/lib/firefox/firefox %u"))
	assert.Equal(t, "code", execBinary(`env FOO=bar "/usr/share/code/code" --unity-launch %F`))
	assert.Equal(t, "", execBinary(""))
}

func TestDefaultApplicationDirs(t *testing.T) {
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)
	t.Setenv("XDG_DATA_DIRS", "/opt/share:/usr/share")
	xdg.Reload()
	t.Cleanup(xdg.Reload)

	dirs := DefaultApplicationDirs()

	assert.Contains(t, dirs, filepath.Join(dataHome, "applications"))
	assert.Contains(t, dirs, "/opt/share/applications")
	assert.Contains(t, dirs, filepath.Join(GetRealUserHome(), ".local", "share", "applications"))
	assert.Less(t,
		indexOf(dirs, filepath.Join(dataHome, "applications")),
		indexOf(dirs, "/opt/share/applications"))
}

func indexOf(dirs []string, dir string) int {
	for i, d := range dirs {
		if d == dir {
			return i
		}
	}
	return -1
}
