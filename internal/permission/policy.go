package permission

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Policy is an operator-supplied cap on all-permissions code.
type Policy struct {
	Source string
	perms  []Permission
}

type policyFile struct {
	Permissions []Permission `yaml:"permissions"`
}

// LoadPolicy reads a YAML policy file:
//
//	permissions:
//	  - kind: file
//	    target: /srv/shared/-
//	    actions: read
//	  - kind: socket
//	    target: "*.corp.example:443"
//	    actions: connect
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trusted policy: %w", err)
	}
	return ParsePolicy(path, data)
}

// ParsePolicy decodes policy YAML.
func ParsePolicy(source string, data []byte) (*Policy, error) {
	var doc policyFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse trusted policy %s: %w", source, err)
	}
	for i, p := range doc.Permissions {
		switch p.Kind {
		case KindAll, KindFile, KindSocket, KindProperty, KindRuntime, KindAWT:
		default:
			return nil, fmt.Errorf("trusted policy %s: entry %d: unknown kind %q", source, i, p.Kind)
		}
		if p.Kind != KindAll && p.Target == "" {
			return nil, fmt.Errorf("trusted policy %s: entry %d: missing target", source, i)
		}
	}
	return &Policy{Source: source, perms: doc.Permissions}, nil
}

// Permissions returns a copy of the policy's grants.
func (p *Policy) Permissions() []Permission {
	out := make([]Permission, len(p.perms))
	copy(out, p.perms)
	return out
}
