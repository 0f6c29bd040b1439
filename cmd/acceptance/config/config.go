// Package config validates everything the acceptance run needs before a
// single node is touched.
package config

import (
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/canopus-io/acceptance-tests/controller/runner"
	"github.com/canopus-io/acceptance-tests/source"
)

// TestType selects which workflow to run.
type TestType string

const (
	TestTypeClient  TestType = "client"
	TestTypeCluster TestType = "cluster"
)

// Provider names.
const (
	ProviderVagrant      = "vagrant"
	ProviderDigitalOcean = "digitalocean"
)

// Distributions this system knows how to provision.
var Distributions = []string{"centos-7", "fedora-20", "ubuntu-14.04"}

// Providers that can back a node pool.
var Providers = []string{ProviderDigitalOcean, ProviderVagrant}

// Flags mirrors the command-line surface before validation.
type Flags struct {
	Distribution string
	Provider     string
	Type         string
	ConfigFile   string
	Branch       string
	Version      string
	BuildServer  string
	Variants     []string
	Keep         bool
	// Selectors are the trailing arguments, passed through to the test
	// harness. Empty means the workflow's default suite.
	Selectors []string
}

// Config is the validated run configuration.
type Config struct {
	Distribution string
	Provider     string
	Type         TestType
	Source       source.PackageSource
	Variants     []runner.Variant
	Keep         bool
	Selectors    []string

	// DigitalOcean holds the cloud stanza, nil for the vagrant provider.
	DigitalOcean *DigitalOceanConfig
	// Metadata is attached to every created cloud instance, and must
	// include the creator entry for cloud providers.
	Metadata map[string]string
}

// DigitalOceanConfig is the provider stanza of the config file.
type DigitalOceanConfig struct {
	Token     string `json:"token"`
	Region    string `json:"region"`
	Size      string `json:"size"`
	SSHKeyIDs []int  `json:"sshKeyIDs"`
}

type fileConfig struct {
	DigitalOcean *DigitalOceanConfig `json:"digitalocean,omitempty"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
}

// Parse validates the flag surface and the config file into a Config.
// Every configuration error is reported here, before any infrastructure
// cost is incurred.
func Parse(f Flags) (*Config, error) {
	if f.Distribution == "" {
		return nil, fmt.Errorf("distribution required, one of: %s", strings.Join(Distributions, ", "))
	}
	if !contains(Distributions, f.Distribution) {
		return nil, fmt.Errorf("distribution %q not supported, available: %s", f.Distribution, strings.Join(Distributions, ", "))
	}
	if !contains(Providers, f.Provider) {
		return nil, fmt.Errorf("provider %q not supported, available: %s", f.Provider, strings.Join(Providers, ", "))
	}

	testType := TestType(f.Type)
	if testType != TestTypeClient && testType != TestTypeCluster {
		return nil, fmt.Errorf("type must be one of client, cluster, got %q", f.Type)
	}

	variants := make([]runner.Variant, 0, len(f.Variants))
	for _, v := range f.Variants {
		variant, err := runner.ParseVariant(v)
		if err != nil {
			return nil, err
		}
		variants = append(variants, variant)
	}

	var file fileConfig
	if f.ConfigFile != "" {
		data, err := os.ReadFile(f.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", f.ConfigFile, err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", f.ConfigFile, err)
		}
	}

	conf := &Config{
		Distribution: f.Distribution,
		Provider:     f.Provider,
		Type:         testType,
		Source:       source.New(f.Version, f.Branch, f.BuildServer),
		Variants:     variants,
		Keep:         f.Keep,
		Selectors:    f.Selectors,
		DigitalOcean: file.DigitalOcean,
		Metadata:     file.Metadata,
	}

	if f.Provider == ProviderDigitalOcean {
		if conf.DigitalOcean == nil {
			return nil, fmt.Errorf("config file must include a %q stanza", ProviderDigitalOcean)
		}
		if conf.DigitalOcean.Token == "" {
			return nil, fmt.Errorf("%s config must include a token", ProviderDigitalOcean)
		}
	}

	return conf, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
