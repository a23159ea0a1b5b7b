package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"nanabot/internal/config"

	"github.com/spf13/cobra"
)

const (
	serviceName  = "nanabot"
	launchdLabel = "dev.nanabot.relay"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install or remove nanabot as a user service (systemd/launchd)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Write a service file that runs `nanabot serve` at login",
		Long: `Generates a systemd user unit (Linux) or launchd agent (macOS) running
"nanabot serve". Environment variables such as DISCORD_TOKEN are read from
~/.nanabot/env on Linux; on macOS put them in the config file instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			switch runtime.GOOS {
			case "linux":
				return installSystemd(execPath, resolveConfigPath())
			case "darwin":
				return installLaunchd(execPath, resolveConfigPath())
			default:
				return fmt.Errorf("unsupported OS: %s (supported: linux, darwin)", runtime.GOOS)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := servicePath()
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Service removed: %s\n", path)
			return nil
		},
	})
	return cmd
}

func servicePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", serviceName+".service"), nil
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}

// serveArgs is the command line the service runs.
func serveArgs(execPath, cfgPath string) []string {
	args := []string{execPath, "serve"}
	if cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}
	return args
}

func renderSystemdUnit(execPath, cfgPath string) string {
	unit := strings.ReplaceAll(systemdTemplate, "{{EXEC}}", strings.Join(serveArgs(execPath, cfgPath), " "))
	return strings.ReplaceAll(unit, "{{ENV_FILE}}", filepath.Join(config.DefaultConfigDir(), "env"))
}

func renderLaunchdPlist(execPath, cfgPath, logPath string) string {
	var sb strings.Builder
	for _, a := range serveArgs(execPath, cfgPath) {
		fmt.Fprintf(&sb, "        <string>%s</string>\n", a)
	}
	plist := strings.ReplaceAll(launchdTemplate, "{{ARGS}}", strings.TrimSuffix(sb.String(), "\n"))
	plist = strings.ReplaceAll(plist, "{{LABEL}}", launchdLabel)
	return strings.ReplaceAll(plist, "{{LOG}}", logPath)
}

func installSystemd(execPath, cfgPath string) error {
	unitPath, err := servicePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(unitPath, []byte(renderSystemdUnit(execPath, cfgPath)), 0o644); err != nil {
		return err
	}

	fmt.Printf("Service installed: %s\n", unitPath)
	fmt.Printf("Put DISCORD_TOKEN and friends in %s\n", filepath.Join(config.DefaultConfigDir(), "env"))
	fmt.Printf("To start:  systemctl --user start %s\n", serviceName)
	fmt.Printf("To enable: systemctl --user enable %s\n", serviceName)
	return nil
}

func installLaunchd(execPath, cfgPath string) error {
	plistPath, err := servicePath()
	if err != nil {
		return err
	}
	logPath := filepath.Join(config.DefaultConfigDir(), "logs", "nanabot.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(plistPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(plistPath, []byte(renderLaunchdPlist(execPath, cfgPath, logPath)), 0o644); err != nil {
		return err
	}

	fmt.Printf("Service installed: %s\n", plistPath)
	fmt.Printf("To start: launchctl load %s\n", plistPath)
	fmt.Printf("To stop:  launchctl unload %s\n", plistPath)
	return nil
}

const systemdTemplate = `[Unit]
Description=nanabot Discord relay
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
EnvironmentFile=-{{ENV_FILE}}
ExecStart={{EXEC}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
{{ARGS}}
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{LOG}}</string>
</dict>
</plist>
`
