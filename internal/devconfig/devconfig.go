// Package devconfig loads an optional local YAML file of seed targets,
// used for exercising the HTTP and gRPC front-ends during development
// without a real EFS mount or upstream Nacos server (spec §11 domain
// stack: yaml.v3, already a teacher dependency).
package devconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Entry is one seed target: the file the filesystem provider should
// serve, and the content to write there the first time it is loaded.
type Entry struct {
	DataID  string `yaml:"dataId"`
	Group   string `yaml:"group"`
	Tenant  string `yaml:"tenant,omitempty"`
	Content string `yaml:"content"`
}

// Seed is the top-level shape of the dev config file.
type Seed struct {
	Entries []Entry `yaml:"entries"`
}

// Load reads and parses path. A missing file is not an error: dev config
// is optional, and its absence just means no targets are pre-seeded.
func Load(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Seed{}, nil
		}
		return nil, fmt.Errorf("read dev config %s: %w", path, err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse dev config %s: %w", path, err)
	}
	return &seed, nil
}

// Apply writes every entry's content to its filesystem-provider path
// under root, creating parent directories as needed, so a freshly
// started sidecar in filesystem mode has something to serve immediately.
func (s *Seed) Apply(root string) error {
	for _, e := range s.Entries {
		tenant := e.Tenant
		if tenant == "" {
			tenant = "public"
		}
		dir := root + tenant + "/" + e.Group
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("seed %s/%s/%s: %w", tenant, e.Group, e.DataID, err)
		}
		path := dir + "/" + e.DataID
		if err := os.WriteFile(path, []byte(e.Content), 0o644); err != nil {
			return fmt.Errorf("seed %s/%s/%s: %w", tenant, e.Group, e.DataID, err)
		}
	}
	return nil
}
