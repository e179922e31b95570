package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store types supported by the domain manager.
const (
	StoreTypeSQLite   = "sqlite"
	StoreTypePostgres = "postgresql"
)

// DomainsFile is the parsed form of the domains YAML file.
type DomainsFile struct {
	DefaultDomain string         `yaml:"default_domain"`
	Domains       []DomainConfig `yaml:"domains"`
}

// DomainConfig describes one sport or data vertical.
type DomainConfig struct {
	Name        string        `yaml:"name"`
	DisplayName string        `yaml:"display_name"`
	Enabled     bool          `yaml:"enabled"`
	Keywords    []string      `yaml:"keywords"`
	Store       StoreConfig   `yaml:"store"`
	Backend     BackendTarget `yaml:"backend"`
}

// StoreConfig locates a domain's entity store.
type StoreConfig struct {
	Type string `yaml:"type"` // sqlite | postgresql
	Path string `yaml:"path"` // SQLite file path
	DSN  string `yaml:"dsn"`  // PostgreSQL connection string
}

// BackendTarget describes how to reach a domain's data backend.
type BackendTarget struct {
	BaseURL           string            `yaml:"base_url"`
	SchemaPath        string            `yaml:"schema_path"`
	Timeout           time.Duration     `yaml:"timeout"`
	RequestsPerSecond float64           `yaml:"requests_per_second"`
	Burst             int               `yaml:"burst"`
	Endpoints         map[string]string `yaml:"endpoints"` // tool name -> upstream endpoint
}

// ErrNoDomains is returned when the domains file lists nothing usable.
var ErrNoDomains = errors.New("config: no enabled domains")

// LoadDomainsFile reads, defaults and validates a domains YAML file.
// Relative SQLite paths are resolved against the file's directory.
func LoadDomainsFile(path string) (*DomainsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read domains file: %w", err)
	}
	df, err := ParseDomains(data)
	if err != nil {
		return nil, err
	}

	base := filepath.Dir(path)
	for i := range df.Domains {
		s := &df.Domains[i].Store
		if s.Type == StoreTypeSQLite && s.Path != "" && s.Path != ":memory:" && !filepath.IsAbs(s.Path) {
			s.Path = filepath.Join(base, s.Path)
		}
	}
	return df, nil
}

// ParseDomains parses and validates domains YAML without touching the filesystem.
func ParseDomains(data []byte) (*DomainsFile, error) {
	var df DomainsFile
	if err := yaml.Unmarshal(data, &df); err != nil {
		return nil, fmt.Errorf("config: parse domains file: %w", err)
	}
	if err := df.Validate(); err != nil {
		return nil, err
	}
	return &df, nil
}

// Validate applies defaults and checks the domains file for consistency.
func (df *DomainsFile) Validate() error {
	seen := make(map[string]bool, len(df.Domains))
	enabled := 0
	for i := range df.Domains {
		d := &df.Domains[i]
		d.Name = strings.ToLower(strings.TrimSpace(d.Name))
		if d.Name == "" {
			return fmt.Errorf("config: domain %d has no name", i)
		}
		if seen[d.Name] {
			return fmt.Errorf("config: duplicate domain %q", d.Name)
		}
		seen[d.Name] = true

		if d.DisplayName == "" {
			d.DisplayName = d.Name
		}
		for j, kw := range d.Keywords {
			d.Keywords[j] = strings.ToLower(strings.TrimSpace(kw))
		}

		if d.Store.Type == "" {
			d.Store.Type = StoreTypeSQLite
		}
		switch d.Store.Type {
		case StoreTypeSQLite:
			if d.Store.Path == "" {
				d.Store.Path = d.Name + ".db"
			}
		case StoreTypePostgres:
			if d.Store.DSN == "" {
				return fmt.Errorf("config: domain %q: postgresql store requires dsn", d.Name)
			}
		default:
			return fmt.Errorf("config: domain %q: unknown store type %q", d.Name, d.Store.Type)
		}

		if d.Backend.SchemaPath == "" {
			d.Backend.SchemaPath = "/tools"
		}

		if !d.Enabled {
			continue
		}
		enabled++
		if d.Backend.BaseURL == "" {
			return fmt.Errorf("config: domain %q: backend base_url is required", d.Name)
		}
	}

	if enabled == 0 {
		return ErrNoDomains
	}

	df.DefaultDomain = strings.ToLower(strings.TrimSpace(df.DefaultDomain))
	if df.DefaultDomain == "" {
		for _, d := range df.Domains {
			if d.Enabled {
				df.DefaultDomain = d.Name
				break
			}
		}
	}
	if d, ok := df.Lookup(df.DefaultDomain); !ok || !d.Enabled {
		return fmt.Errorf("config: default domain %q is not an enabled domain", df.DefaultDomain)
	}
	return nil
}

// Lookup returns the named domain.
func (df *DomainsFile) Lookup(name string) (DomainConfig, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, d := range df.Domains {
		if d.Name == name {
			return d, true
		}
	}
	return DomainConfig{}, false
}

// Enabled returns the enabled domains in file order.
func (df *DomainsFile) Enabled() []DomainConfig {
	out := make([]DomainConfig, 0, len(df.Domains))
	for _, d := range df.Domains {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}
