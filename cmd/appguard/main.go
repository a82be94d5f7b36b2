// Package main is the CLI entry point for appguard.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/app_guard/internal/config"
	"github.com/eliteGoblin/focusd/app_guard/internal/daemon"
	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
	"github.com/eliteGoblin/focusd/app_guard/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "appguard",
	Short: "Foreground app tracker and blocker",
	Long: `appguard watches which application is in the foreground, logs usage
sessions as JSON events, and closes applications on the blocked list.`,
	Version:      Version,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor in the foreground",
	Long: `Runs the foreground monitor until interrupted. Activity events are
written to stdout as JSON lines. SIGHUP reloads the blocked list.`,
	RunE: runMonitor,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the monitor in the background",
	RunE:  runStart,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background monitor",
	RunE:  runStop,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show monitor status",
	RunE:  runStatus,
}

var blockCmd = &cobra.Command{
	Use:   "block <package>...",
	Short: "Add applications to the blocked list",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runBlock,
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <package>...",
	Short: "Remove applications from the blocked list",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUnblock,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List blocked applications",
	RunE:  runList,
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and enable the systemd unit",
	RunE:  runInstall,
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Disable and remove the systemd unit",
	RunE:  runUninstall,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	logFile    string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default depends on user/system mode)")
	runCmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	listCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output list as JSON")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(versionCmd)
}

// environment is what every command resolves first.
type environment struct {
	execMode   *infra.ExecModeConfig
	configPath string
	dataDir    string
	cfg        *config.Config
}

func loadEnvironment() (*environment, error) {
	execMode := infra.DetectExecMode()

	path := execMode.ConfigPath
	if configPath != "" {
		path = infra.ExpandHome(configPath)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	dataDir := execMode.DataDir
	if cfg.Storage.DataDir != "" {
		dataDir = infra.ExpandHome(cfg.Storage.DataDir)
	}

	return &environment{
		execMode:   execMode,
		configPath: path,
		dataDir:    dataDir,
		cfg:        cfg,
	}, nil
}

// openStore opens the encrypted policy database. APPGUARD_DB_KEY takes
// precedence over the key file.
func openStore(dataDir string) (*infra.EncryptedPolicyStore, error) {
	var provider domain.KeyProvider = infra.NewFileKeyProvider(dataDir)
	if env := infra.NewEnvKeyProvider(); env.KeyExists() {
		provider = env
	}

	key, err := infra.EnsureKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain policy key: %w", err)
	}
	return infra.NewEncryptedPolicyStore(dataDir, key)
}

// signalMonitor sends sig to the running monitor, if any.
func signalMonitor(dataDir string, sig syscall.Signal) (bool, error) {
	sf := infra.NewStatusFile(dataDir)
	status, err := sf.Read()
	if err != nil {
		return false, err
	}
	if !sf.IsAlive(status) {
		return false, nil
	}
	return true, syscall.Kill(status.PID, sig)
}

func runStart(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	sf := infra.NewStatusFile(env.dataDir)
	if status, _ := sf.Read(); sf.IsAlive(status) {
		fmt.Printf("appguard is already running (PID %d)\n", status.PID)
		return nil
	}

	logPath := env.execMode.LogPath
	if env.cfg.Logging.File != "" {
		logPath = env.cfg.Logging.File
	}

	pid, err := daemon.Spawn("--config", env.configPath, "--log-file", logPath)
	if err != nil {
		return err
	}
	fmt.Printf("appguard started (PID %d, mode: %s)\n", pid, env.execMode.Mode)
	fmt.Printf("Logs: %s\n", logPath)
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	running, err := signalMonitor(env.dataDir, syscall.SIGTERM)
	if err != nil {
		return fmt.Errorf("failed to stop monitor: %w", err)
	}
	if !running {
		fmt.Println("appguard is not running")
		return nil
	}
	fmt.Println("appguard stopping")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	sf := infra.NewStatusFile(env.dataDir)
	status, err := sf.Read()
	if err != nil {
		return err
	}
	alive := sf.IsAlive(status)
	unit := infra.NewSystemdManager(env.execMode, nil)

	if jsonOutput {
		out := struct {
			Running bool                `json:"running"`
			Unit    bool                `json:"unit_installed"`
			Status  *infra.DaemonStatus `json:"status,omitempty"`
		}{alive, unit.IsInstalled(), status}
		return json.NewEncoder(os.Stdout).Encode(out)
	}

	fmt.Printf("Mode:      %s\n", env.execMode.Mode)
	fmt.Printf("Config:    %s\n", env.configPath)
	fmt.Printf("Data dir:  %s\n", env.dataDir)
	fmt.Printf("Unit:      %s\n", installedText(unit.IsInstalled()))
	if !alive {
		fmt.Println("Monitor:   not running")
		return nil
	}
	fmt.Printf("Monitor:   running (PID %d)\n", status.PID)
	fmt.Printf("Started:   %s\n", time.Unix(status.StartedAt, 0).Format(time.RFC3339))
	fmt.Printf("Heartbeat: %s\n", time.Unix(status.LastHeartbeat, 0).Format(time.RFC3339))
	if status.Foreground != "" {
		fmt.Printf("Foreground: %s\n", status.Foreground)
	}
	fmt.Printf("Blocked:   %d apps\n", status.BlockedCount)
	return nil
}

func installedText(ok bool) string {
	if ok {
		return "installed"
	}
	return "not installed"
}

func runBlock(cmd *cobra.Command, args []string) error {
	return editPolicy(args, func(store domain.PolicyStore, pkg string) error {
		if err := store.Add(pkg); err != nil {
			return err
		}
		fmt.Printf("blocked %s\n", pkg)
		return nil
	})
}

func runUnblock(cmd *cobra.Command, args []string) error {
	return editPolicy(args, func(store domain.PolicyStore, pkg string) error {
		if err := store.Remove(pkg); err != nil {
			return err
		}
		fmt.Printf("unblocked %s\n", pkg)
		return nil
	})
}

// editPolicy applies op to each package, then asks a running monitor to reload.
func editPolicy(packages []string, op func(domain.PolicyStore, string) error) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	store, err := openStore(env.dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	for _, pkg := range packages {
		if err := op(store, pkg); err != nil {
			return fmt.Errorf("%s: %w", pkg, err)
		}
	}

	if _, err := signalMonitor(env.dataDir, syscall.SIGHUP); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not notify monitor: %v\n", err)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}

	store, err := openStore(env.dataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	blocked, err := store.List()
	if err != nil {
		return err
	}

	if jsonOutput {
		if blocked == nil {
			blocked = []string{}
		}
		return json.NewEncoder(os.Stdout).Encode(blocked)
	}
	if len(blocked) == 0 {
		fmt.Println("No blocked applications")
		return nil
	}
	fmt.Println("Blocked applications:")
	for _, pkg := range blocked {
		fmt.Printf("  - %s\n", pkg)
	}
	return nil
}

func runInstall(cmd *cobra.Command, args []string) error {
	env, err := loadEnvironment()
	if err != nil {
		return err
	}
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	unit := infra.NewSystemdManager(env.execMode, nil)
	if unit.IsInstalled() && !unit.NeedsUpdate(exe) {
		fmt.Printf("systemd unit already installed at %s\n", unit.UnitPath())
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if err := unit.Install(ctx, exe); err != nil {
		return err
	}
	fmt.Printf("Installed %s (%s mode)\n", unit.UnitPath(), env.execMode.Mode)
	return nil
}

func runUninstall(cmd *cobra.Command, args []string) error {
	execMode := infra.DetectExecMode()
	unit := infra.NewSystemdManager(execMode, nil)
	if !unit.IsInstalled() {
		fmt.Println("systemd unit not installed")
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if err := unit.Uninstall(ctx); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", unit.UnitPath())
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("appguard %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
