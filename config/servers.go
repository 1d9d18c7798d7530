package config

import (
	"fmt"
	"strings"
)

// ServerConfig describes how to launch one capability server.
type ServerConfig struct {
	ID           string   `mapstructure:"id"`
	Command      string   `mapstructure:"command"`
	Args         []string `mapstructure:"args"`
	Cwd          string   `mapstructure:"cwd"`
	Env          []string `mapstructure:"env"`
	Description  string   `mapstructure:"description"`
	Capabilities []string `mapstructure:"capabilities"`
	Disabled     bool     `mapstructure:"disabled"`
}

func (s ServerConfig) Normalize() ServerConfig {
	s.ID = strings.TrimSpace(s.ID)
	s.Command = strings.TrimSpace(s.Command)
	s.Cwd = strings.TrimSpace(s.Cwd)
	caps := s.Capabilities[:0:0]
	for _, c := range s.Capabilities {
		if c = strings.TrimSpace(c); c != "" {
			caps = append(caps, c)
		}
	}
	s.Capabilities = caps
	return s
}

func validateServers(servers []ServerConfig) error {
	seen := make(map[string]struct{}, len(servers))
	for i, s := range servers {
		if s.ID == "" {
			return fmt.Errorf("servers[%d].id required", i)
		}
		if s.Command == "" {
			return fmt.Errorf("servers[%d].command required (id=%s)", i, s.ID)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("servers[%d].id %q is duplicated", i, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}
