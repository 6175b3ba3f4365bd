// Package startup registers the application to run at user login.
package startup

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

type StartupManager interface {
	Enable() error
	Disable() error
	IsEnabled() bool
}

// Entry is what runs at login: the current executable with Args.
type Entry struct {
	AppName string
	Args    []string
}

func (e Entry) command() ([]string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return append([]string{exePath}, e.Args...), nil
}

func NewStartupManager(e Entry) StartupManager {
	switch runtime.GOOS {
	case "windows":
		return &WindowsStartupManager{entry: e}
	case "darwin":
		return &MacOSStartupManager{entry: e}
	default:
		return &LinuxStartupManager{entry: e}
	}
}

const runKey = `HKCU\Software\Microsoft\Windows\CurrentVersion\Run`

type WindowsStartupManager struct {
	entry Entry
}

func (m *WindowsStartupManager) Enable() error {
	argv, err := m.entry.command()
	if err != nil {
		return err
	}
	for i, a := range argv {
		if strings.ContainsAny(a, " \t") {
			argv[i] = `"` + a + `"`
		}
	}
	cmd := exec.Command("reg", "add", runKey, "/v", m.entry.AppName, "/t", "REG_SZ", "/d", strings.Join(argv, " "), "/f")
	return cmd.Run()
}

func (m *WindowsStartupManager) Disable() error {
	if !m.IsEnabled() {
		return nil
	}
	cmd := exec.Command("reg", "delete", runKey, "/v", m.entry.AppName, "/f")
	return cmd.Run()
}

func (m *WindowsStartupManager) IsEnabled() bool {
	cmd := exec.Command("reg", "query", runKey, "/v", m.entry.AppName)
	return cmd.Run() == nil
}

type LinuxStartupManager struct {
	entry Entry
}

func (m *LinuxStartupManager) path() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "autostart", m.entry.AppName+".desktop"), nil
}

// desktopExec quotes arguments for the Exec key of a .desktop file.
func desktopExec(argv []string) string {
	out := make([]string, len(argv))
	for i, a := range argv {
		if strings.ContainsAny(a, " \t\"'\\$`") {
			r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`", `$`, `\$`)
			a = `"` + r.Replace(a) + `"`
		}
		out[i] = a
	}
	return strings.Join(out, " ")
}

func (m *LinuxStartupManager) Enable() error {
	desktopFile, err := m.path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(desktopFile), 0o755); err != nil {
		return err
	}
	argv, err := m.entry.command()
	if err != nil {
		return err
	}

	content := `[Desktop Entry]
Type=Application
Version=1.0
Name=` + m.entry.AppName + `
Comment=Start the ` + m.entry.AppName + ` tunnel at login
Exec=` + desktopExec(argv) + `
Terminal=false
Categories=Network;
Hidden=false
NoDisplay=false
X-GNOME-Autostart-enabled=true
`
	return os.WriteFile(desktopFile, []byte(content), 0o644)
}

func (m *LinuxStartupManager) Disable() error {
	desktopFile, err := m.path()
	if err != nil {
		return err
	}
	if err := os.Remove(desktopFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (m *LinuxStartupManager) IsEnabled() bool {
	desktopFile, err := m.path()
	if err != nil {
		return false
	}
	_, err = os.Stat(desktopFile)
	return err == nil
}

type MacOSStartupManager struct {
	entry Entry
}

func (m *MacOSStartupManager) label() string {
	return "com." + m.entry.AppName
}

func (m *MacOSStartupManager) path() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, "Library/LaunchAgents", m.label()+".plist"), nil
}

func plistEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

func (m *MacOSStartupManager) Enable() error {
	plistFile, err := m.path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(plistFile), 0o755); err != nil {
		return err
	}
	argv, err := m.entry.command()
	if err != nil {
		return err
	}

	var args strings.Builder
	for _, a := range argv {
		args.WriteString("        <string>" + plistEscape(a) + "</string>\n")
	}

	content := `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>` + m.label() + `</string>
    <key>ProgramArguments</key>
    <array>
` + args.String() + `    </array>
    <key>RunAtLoad</key>
    <true/>
</dict>
</plist>
`

	if err := os.WriteFile(plistFile, []byte(content), 0o644); err != nil {
		return err
	}

	cmd := exec.Command("launchctl", "load", plistFile)
	return cmd.Run()
}

func (m *MacOSStartupManager) Disable() error {
	plistFile, err := m.path()
	if err != nil {
		return err
	}

	if _, err := os.Stat(plistFile); err == nil {
		cmd := exec.Command("launchctl", "unload", plistFile)
		if err := cmd.Run(); err != nil {
			return err
		}
		return os.Remove(plistFile)
	}
	return nil
}

func (m *MacOSStartupManager) IsEnabled() bool {
	plistFile, err := m.path()
	if err != nil {
		return false
	}
	_, err = os.Stat(plistFile)
	return err == nil
}
