package release

import (
	"errors"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErtsMode enumerates the runtime bundling variants.
type ErtsMode uint8

const (
	// ErtsOmit leaves the runtime out of the archive.
	ErtsOmit ErtsMode = iota
	// ErtsBundleDefault bundles the active runtime installation.
	ErtsBundleDefault
	// ErtsBundleFrom bundles the runtime found at an explicit path.
	ErtsBundleFrom
)

// ErtsPolicy decides whether and from where the runtime is bundled.
// The zero value omits the runtime.
type ErtsPolicy struct {
	// Mode is the selected variant.
	Mode ErtsMode
	// Path is the runtime location, set only for ErtsBundleFrom.
	Path string
}

var errEmptyErtsPath = errors.New("include_erts path must not be empty")

// OmitErts returns the policy that leaves the runtime out.
func OmitErts() ErtsPolicy {
	return ErtsPolicy{Mode: ErtsOmit}
}

// BundleDefaultErts returns the policy that bundles the active runtime.
func BundleDefaultErts() ErtsPolicy {
	return ErtsPolicy{Mode: ErtsBundleDefault}
}

// BundleErtsFrom returns the policy that bundles the runtime found at path.
func BundleErtsFrom(path string) ErtsPolicy {
	return ErtsPolicy{Mode: ErtsBundleFrom, Path: path}
}

// Included reports whether any runtime is bundled.
func (p ErtsPolicy) Included() bool {
	return p.Mode != ErtsOmit
}

// String renders the policy the way it is written in job files.
func (p ErtsPolicy) String() string {
	switch p.Mode {
	case ErtsOmit:
		return "false"
	case ErtsBundleDefault:
		return "true"
	case ErtsBundleFrom:
		return p.Path
	default:
		return fmt.Sprintf("unknown(%d)", p.Mode)
	}
}

// UnmarshalYAML accepts a boolean or a runtime path.
func (p *ErtsPolicy) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: include_erts must be a boolean or a path", node.Line)
	}

	if node.ShortTag() == "!!bool" {
		include, err := strconv.ParseBool(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: include_erts: %w", node.Line, err)
		}

		if include {
			*p = BundleDefaultErts()
		} else {
			*p = OmitErts()
		}

		return nil
	}

	if node.Value == "" {
		return fmt.Errorf("line %d: %w", node.Line, errEmptyErtsPath)
	}

	*p = BundleErtsFrom(node.Value)

	return nil
}

// MarshalYAML writes the policy back as a boolean or a path.
func (p ErtsPolicy) MarshalYAML() (any, error) {
	switch p.Mode {
	case ErtsOmit:
		return false, nil
	case ErtsBundleDefault:
		return true, nil
	case ErtsBundleFrom:
		return p.Path, nil
	default:
		return nil, fmt.Errorf("unknown runtime mode %d", p.Mode)
	}
}
