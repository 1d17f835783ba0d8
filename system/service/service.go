// Package service renders and installs the systemd unit that runs the bridge.
package service

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/rs/zerolog/log"
)

const DefaultUnitPath = "/etc/systemd/system/compool-bridge.service"

type Options struct {
	User       string
	WorkDir    string
	Binary     string
	ConfigPath string
	// After names units that must be up first, e.g. the serial gateway.
	After []string
}

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=Compool pool controller bridge
After=network-online.target{{range .After}} {{.}}{{end}}
Wants=network-online.target{{range .After}}
Requires={{.}}{{end}}

[Service]
Type=simple
{{- if .User}}
User={{.User}}
{{- end}}
WorkingDirectory={{.WorkDir}}
ExecStart={{.Binary}} --config {{.ConfigPath}}
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`))

// Unit renders the unit file. Binary and ConfigPath must be absolute.
func Unit(opts Options) (string, error) {
	if !filepath.IsAbs(opts.Binary) {
		return "", fmt.Errorf("binary path must be absolute: %q", opts.Binary)
	}
	if !filepath.IsAbs(opts.ConfigPath) {
		return "", fmt.Errorf("config path must be absolute: %q", opts.ConfigPath)
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Dir(opts.ConfigPath)
	}

	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, opts); err != nil {
		return "", fmt.Errorf("render unit: %w", err)
	}
	return buf.String(), nil
}

// Install writes the unit to path.
func Install(path string, opts Options) error {
	unit, err := Unit(opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(unit), 0644); err != nil {
		return fmt.Errorf("write unit: %w", err)
	}
	log.Info().Str("path", path).Msg("Installed systemd unit")
	return nil
}

var runSystemctl = func(args ...string) error {
	cmd := exec.Command("systemctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Enable reloads systemd and enables the unit so it starts at boot.
func Enable(path string) error {
	if err := runSystemctl("daemon-reload"); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	if err := runSystemctl("enable", filepath.Base(path)); err != nil {
		return fmt.Errorf("enable %s: %w", filepath.Base(path), err)
	}
	return nil
}
