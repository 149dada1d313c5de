package stripper

import (
	"context"
	"fmt"

	"github.com/oshokin/relpack/internal/beam"
	"github.com/oshokin/relpack/internal/domain/release"
	"github.com/oshokin/relpack/internal/logger"
)

// Warnings emitted by Decide.
const (
	WarnStripping = "Stripping debug info from release modules: " +
		"hot upgrades from this release will require a rolling restart"
	WarnUpgradeNotStripped = "Release is an upgrade, debug info will not be stripped: " +
		"upgrading from or to a stripped release fails because the upgrade handler " +
		"needs the metadata chunks that stripping removes"
	WarnDevModeNotStripped = "Dev mode is enabled, debug info will not be stripped: " +
		"dev mode releases link files from the base installation and stripping would corrupt it"
)

// Decision is the outcome of the strip policy.
type Decision struct {
	// Strip is true when modules are rewritten.
	Strip bool
	// Warning is logged before acting, if non-empty.
	Warning string
}

// Decide applies the strip policy. Rules are checked in order, first match wins.
func Decide(rel *release.Release) Decision {
	profile := rel.Profile

	switch {
	case !rel.IsUpgrade && profile.StripDebugInfo && !profile.DevMode:
		return Decision{Strip: true, Warning: WarnStripping}
	case rel.IsUpgrade && profile.StripDebugInfo && !profile.DevMode:
		return Decision{Warning: WarnUpgradeNotStripped}
	case profile.StripDebugInfo && profile.DevMode:
		return Decision{Warning: WarnDevModeNotStripped}
	default:
		return Decision{}
	}
}

// TreeStripper rewrites the modules under a directory and reports how many changed.
type TreeStripper func(root string) (int, error)

// Stripper applies the strip policy to extracted release trees.
type Stripper struct {
	strip TreeStripper
}

// New returns a Stripper backed by beam.StripTree.
func New() *Stripper {
	return &Stripper{strip: beam.StripTree}
}

// NewWith returns a Stripper using a custom tree rewriter.
func NewWith(strip TreeStripper) *Stripper {
	return &Stripper{strip: strip}
}

// Run strips the modules under root if the policy of rel allows it.
func (s *Stripper) Run(ctx context.Context, rel *release.Release, root string) error {
	decision := Decide(rel)
	if decision.Warning != "" {
		logger.Warn(ctx, decision.Warning)
	}

	if !decision.Strip {
		return nil
	}

	count, err := s.strip(root)
	if err != nil {
		return fmt.Errorf("failed to strip release: %w", err)
	}

	logger.InfoKV(ctx, "Stripped release modules", "modules", count)

	return nil
}
