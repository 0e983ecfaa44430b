package access

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Bundle is a YAML document of policies and agent permissions, e.g.
//
//	policies:
//	  - name: protect-production
//	    rules:
//	      forbidden_resource_prefixes: ["prod/"]
//	agents:
//	  file_surfer:
//	    logs: {level: admin}
type Bundle struct {
	Policies []PolicyInput          `yaml:"policies"`
	Agents   map[string]Permissions `yaml:"agents"`
	Users    map[string]Permissions `yaml:"users"`
}

// LoadBundle reads and validates a YAML bundle.
func LoadBundle(path string) (Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("read policy bundle: %w", err)
	}
	return ParseBundle(data)
}

// ParseBundle decodes and validates a YAML bundle.
func ParseBundle(data []byte) (Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Bundle{}, fmt.Errorf("parse policy bundle: %w", err)
	}
	for _, p := range b.Policies {
		if err := p.validate(); err != nil {
			return Bundle{}, err
		}
	}
	return b, nil
}
