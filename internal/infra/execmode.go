package infra

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// ExecMode represents the execution mode of the application.
type ExecMode string

const (
	// ExecModeUser runs inside a desktop session as the logged-in user
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root, guarding every session on the machine
	ExecModeSystem ExecMode = "system"
)

// AppName is used for directory and file names.
const AppName = "appguard"

// ExecModeConfig holds paths based on execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	DataDir    string // Encrypted policy database and key
	ConfigPath string // TOML configuration file
	LogPath    string // Log file used by the background monitor
	IsRoot     bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 && os.Getenv("SUDO_USER") == "" {
		return systemModeConfig()
	}
	return GetUserModeConfig()
}

func systemModeConfig() *ExecModeConfig {
	return &ExecModeConfig{
		Mode:       ExecModeSystem,
		DataDir:    filepath.Join("/var/lib", AppName),
		ConfigPath: filepath.Join("/etc", AppName, AppName+".toml"),
		LogPath:    filepath.Join("/var/log", AppName+".log"),
		IsRoot:     true,
	}
}

// GetUserModeConfig returns XDG user paths regardless of current euid.
// Under sudo the invoking user's home is used.
func GetUserModeConfig() *ExecModeConfig {
	home := GetRealUserHome()

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(home, ".local", "share")
	}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(home, ".config")
	}

	dataDir := filepath.Join(dataHome, AppName)
	return &ExecModeConfig{
		Mode:       ExecModeUser,
		DataDir:    dataDir,
		ConfigPath: filepath.Join(configHome, AppName, AppName+".toml"),
		LogPath:    filepath.Join(dataDir, AppName+".log"),
		IsRoot:     os.Geteuid() == 0, // Still track actual root status for permission operations
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (desktop session)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

// ExpandHome expands a leading ~ to the real user's home directory.
func ExpandHome(path string) string {
	if path == "~" {
		return GetRealUserHome()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(GetRealUserHome(), path[2:])
	}
	return path
}
