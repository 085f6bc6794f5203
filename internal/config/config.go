// Package config loads the on-disk NodeConfig document (spec.md §6):
// a TOML file with [server] and [client] sections. Grounded on the
// teacher's own config.Path/Load/Save layering (config/config.go),
// generalized from YAML contexts to the TOML document the original
// prototype's config.rs reads with the toml crate — so this package
// reaches for github.com/BurntSushi/toml rather than gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	defaultListenAddr = "127.0.0.1"
	defaultLANPort    = 8765
	defaultCloudURL   = "ws://localhost:8080"
)

// ServerMode selects how this node decides whether to become the LAN
// server (spec.md §4.4).
type ServerMode int

const (
	ServerModeAuto ServerMode = iota
	ServerModeServerPreferred
	ServerModeClientOnly
)

func parseServerMode(s string) ServerMode {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "-")) {
	case "server-preferred":
		return ServerModeServerPreferred
	case "client-only":
		return ServerModeClientOnly
	default:
		return ServerModeAuto
	}
}

func (m ServerMode) String() string {
	switch m {
	case ServerModeServerPreferred:
		return "server-preferred"
	case ServerModeClientOnly:
		return "client-only"
	default:
		return "auto"
	}
}

// serverSection and clientSection mirror the [server]/[client] TOML
// tables named in spec.md §6.
type serverSection struct {
	Mode   string `toml:"mode"`
	Listen string `toml:"listen"`
	Port   uint16 `toml:"port"`
}

type clientSection struct {
	CloudURL    string `toml:"cloud_url"`
	EnableCloud *bool  `toml:"enable_cloud"`
	EnableLAN   *bool  `toml:"enable_lan"`
}

// document is the raw shape of the TOML file on disk.
type document struct {
	Server serverSection `toml:"server"`
	Client clientSection `toml:"client"`
}

func defaultDocument() document {
	t := true
	return document{
		Server: serverSection{Mode: "auto", Listen: defaultListenAddr, Port: defaultLANPort},
		Client: clientSection{CloudURL: defaultCloudURL, EnableCloud: &t, EnableLAN: &t},
	}
}

// NodeConfig is the resolved, typed configuration the node supervisor
// consumes — the Go counterpart of the original prototype's
// NodeConfig struct in node.rs.
type NodeConfig struct {
	CloudURL   string
	LANPort    uint16
	ListenAddr string
	EnableCloud bool
	EnableLAN   bool
	ServerMode  ServerMode
}

func (d document) toNodeConfig() NodeConfig {
	nc := NodeConfig{
		CloudURL:    d.Client.CloudURL,
		LANPort:     d.Server.Port,
		ListenAddr:  d.Server.Listen,
		EnableCloud: true,
		EnableLAN:   true,
		ServerMode:  parseServerMode(d.Server.Mode),
	}
	if nc.CloudURL == "" {
		nc.CloudURL = defaultCloudURL
	}
	if nc.LANPort == 0 {
		nc.LANPort = defaultLANPort
	}
	if nc.ListenAddr == "" {
		nc.ListenAddr = defaultListenAddr
	}
	if d.Client.EnableCloud != nil {
		nc.EnableCloud = *d.Client.EnableCloud
	}
	if d.Client.EnableLAN != nil {
		nc.EnableLAN = *d.Client.EnableLAN
	}
	return nc
}

// Path returns the config file location. It respects XDG_CONFIG_HOME
// on POSIX and APPDATA on Windows, falling back to
// ~/.config/envmesh/config.toml (spec.md §6).
func Path() string {
	if appData := os.Getenv("APPDATA"); appData != "" && strings.EqualFold(os.Getenv("OS"), "Windows_NT") {
		return filepath.Join(appData, "envmesh", "config.toml")
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "envmesh", "config.toml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "envmesh", "config.toml")
}

// Load reads NodeConfig from path. A missing file yields the default
// configuration rather than an error (spec.md §6).
func Load(path string) (NodeConfig, error) {
	doc := defaultDocument()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc.toNodeConfig(), nil
		}
		return NodeConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if _, err := toml.Decode(string(data), &doc); err != nil {
		return NodeConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return doc.toNodeConfig(), nil
}

// LoadDefault tries Path() and falls back to in-memory defaults if no
// file is present there.
func LoadDefault() (NodeConfig, error) {
	return Load(Path())
}
