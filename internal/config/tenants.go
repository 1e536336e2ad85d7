package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// TenantBundle captures the tenant definitions read from a tenants file.
type TenantBundle struct {
	Defaults *TenantConfig
	Domains  map[string]TenantConfig
	Sources  []string
}

type tenantDocument struct {
	Defaults *TenantConfig           `koanf:"defaults"`
	Domains  map[string]TenantConfig `koanf:"domains"`
}

// LoadTenants parses a YAML, JSON or TOML document holding `defaults` and
// `domains` keys.
func LoadTenants(ctx context.Context, path string) (TenantBundle, error) {
	if err := ctx.Err(); err != nil {
		return TenantBundle{}, err
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TenantBundle{}, fmt.Errorf("config: tenants file %s not found", path)
		}
		return TenantBundle{}, fmt.Errorf("config: stat %s: %w", path, err)
	}
	parser, err := parserFor(path)
	if err != nil {
		return TenantBundle{}, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return TenantBundle{}, fmt.Errorf("config: load tenants %s: %w", path, err)
	}
	var doc tenantDocument
	if err := k.Unmarshal("", &doc); err != nil {
		return TenantBundle{}, fmt.Errorf("config: unmarshal tenants %s: %w", path, err)
	}
	if doc.Defaults != nil {
		if err := validateTenant("defaults", *doc.Defaults); err != nil {
			return TenantBundle{}, err
		}
	}
	for name, tenant := range doc.Domains {
		if err := validateTenant("domains."+name, tenant); err != nil {
			return TenantBundle{}, err
		}
	}
	return TenantBundle{
		Defaults: doc.Defaults,
		Domains:  doc.Domains,
		Sources:  []string{path},
	}, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", "":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension %q", filepath.Ext(path))
	}
}
