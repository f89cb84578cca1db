package database

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed seed/domains.yaml
var defaultDomainsYAML []byte

// SeedDomain — домен из файла начальных данных.
type SeedDomain struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Icon        string `yaml:"icon"`
}

// seedFile — корневая структура YAML-файла начальных данных.
type seedFile struct {
	Domains []SeedDomain `yaml:"domains"`
}

// DefaultDomains возвращает домены по умолчанию из встроенного YAML.
func DefaultDomains() ([]SeedDomain, error) {
	return ParseSeedDomains(defaultDomainsYAML)
}

// ParseSeedDomains разбирает YAML со списком доменов.
// Имена обязательны и уникальны.
func ParseSeedDomains(data []byte) ([]SeedDomain, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ошибка разбора YAML доменов: %w", err)
	}

	seen := make(map[string]bool, len(f.Domains))
	for i, d := range f.Domains {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("домен #%d: пустое имя", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("домен %q указан дважды", name)
		}
		seen[name] = true
		f.Domains[i].Name = name
	}
	return f.Domains, nil
}
