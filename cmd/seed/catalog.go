package main

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
)

//go:embed catalog.yml
var defaultCatalog []byte

type catalogFile struct {
	Providers []struct {
		Name        string   `yaml:"name"`
		Departments []string `yaml:"departments"`
		Status      string   `yaml:"status"`
	} `yaml:"providers"`
}

// loadCatalog reads path, or the built-in catalog when path is empty.
func loadCatalog(path string) ([]appointment.ProviderEntry, error) {
	raw := defaultCatalog
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
	}
	return parseCatalog(raw)
}

func parseCatalog(raw []byte) ([]appointment.ProviderEntry, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	var entries []appointment.ProviderEntry
	for _, p := range f.Providers {
		if p.Name == "" || len(p.Departments) == 0 {
			return nil, fmt.Errorf("catalog provider %q needs a name and at least one department", p.Name)
		}

		status := appointment.ProviderActive
		switch p.Status {
		case "", string(appointment.ProviderActive):
		case string(appointment.ProviderInactive):
			status = appointment.ProviderInactive
		default:
			return nil, fmt.Errorf("catalog provider %q: unknown status %q", p.Name, p.Status)
		}

		for _, d := range p.Departments {
			entries = append(entries, appointment.ProviderEntry{
				ProviderName: p.Name,
				Department:   d,
				Status:       status,
			})
		}
	}
	return entries, nil
}
