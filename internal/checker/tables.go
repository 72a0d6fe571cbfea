package checker

import (
	"bufio"
	"bytes"
	"embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	sharedErrors "github.com/khanhnv2901/sentinelscope/internal/shared/errors"
	"gopkg.in/yaml.v3"
)

//go:embed data/ports.yaml data/providers.yaml data/wordlist.txt
var tableFS embed.FS

type portProfileFile struct {
	Version  string           `yaml:"version"`
	Profiles map[string][]int `yaml:"profiles"`
}

var portProfiles = sync.OnceValues(func() (map[string][]int, error) {
	data, err := tableFS.ReadFile("data/ports.yaml")
	if err != nil {
		return nil, err
	}
	var file portProfileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: ports.yaml: %v", sharedErrors.ErrInvalidTable, err)
	}
	profiles := make(map[string][]int, len(file.Profiles))
	for name, ports := range file.Profiles {
		for _, p := range ports {
			if p < 1 || p > 65535 {
				return nil, fmt.Errorf("%w: profile %s has port %d", sharedErrors.ErrInvalidTable, name, p)
			}
		}
		profiles[name] = sortedUnique(ports)
	}
	return profiles, nil
})

// ProfilePorts returns the candidate ports of a named profile in ascending order.
// The returned slice is a copy.
func ProfilePorts(name string) ([]int, error) {
	profiles, err := portProfiles()
	if err != nil {
		return nil, err
	}
	ports, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", sharedErrors.ErrInvalidPortProfile, name)
	}
	return slices.Clone(ports), nil
}

// Provider is one takeover signature entry.
type Provider struct {
	Name           string   `yaml:"name" json:"name"`
	CNAMESuffixes  []string `yaml:"cname_suffixes" json:"cname_suffixes"`
	BodySignatures []string `yaml:"body_signatures" json:"body_signatures,omitempty"`
}

// ProviderTable is a versioned, immutable set of takeover signatures.
type ProviderTable struct {
	Version   string     `yaml:"version" json:"version"`
	Providers []Provider `yaml:"providers" json:"providers"`
}

// ParseProviderTable decodes and validates a YAML provider table.
func ParseProviderTable(data []byte) (*ProviderTable, error) {
	var table ProviderTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("%w: %v", sharedErrors.ErrInvalidTable, err)
	}
	if table.Version == "" {
		return nil, fmt.Errorf("%w: provider table has no version", sharedErrors.ErrInvalidTable)
	}
	for i := range table.Providers {
		p := &table.Providers[i]
		if p.Name == "" || len(p.CNAMESuffixes) == 0 {
			return nil, fmt.Errorf("%w: provider #%d needs a name and at least one cname suffix", sharedErrors.ErrInvalidTable, i)
		}
		for j, suffix := range p.CNAMESuffixes {
			p.CNAMESuffixes[j] = strings.Trim(strings.ToLower(suffix), ".")
		}
	}
	return &table, nil
}

// LoadProviderTable reads a provider table from disk.
func LoadProviderTable(path string) (*ProviderTable, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied table path.
	if err != nil {
		return nil, err
	}
	return ParseProviderTable(data)
}

var defaultProviders = sync.OnceValues(func() (*ProviderTable, error) {
	data, err := tableFS.ReadFile("data/providers.yaml")
	if err != nil {
		return nil, err
	}
	return ParseProviderTable(data)
})

// DefaultProviders returns the built-in provider table.
func DefaultProviders() (*ProviderTable, error) {
	return defaultProviders()
}

var defaultWordlist = sync.OnceValue(func() []string {
	data, err := tableFS.ReadFile("data/wordlist.txt")
	if err != nil {
		return nil
	}
	var words []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, strings.ToLower(line))
	}
	return words
})

// DefaultWordlist returns a copy of the built-in subdomain labels.
func DefaultWordlist() []string {
	return slices.Clone(defaultWordlist())
}

func sortedUnique(values []int) []int {
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}
