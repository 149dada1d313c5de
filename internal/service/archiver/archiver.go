package archiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/oshokin/relpack/internal/archive"
	"github.com/oshokin/relpack/internal/domain/release"
	"github.com/oshokin/relpack/internal/erts"
	"github.com/oshokin/relpack/internal/logger"
	"github.com/oshokin/relpack/internal/service/stripper"
)

// Codec builds and unpacks archives.
type Codec interface {
	Create(target string, entries []archive.Entry, opts archive.Options) error
	Extract(source, dir string) error
}

// RuntimeLocator finds the active runtime installation.
type RuntimeLocator interface {
	Active() (*erts.Installation, error)
}

// Stripper removes debug info from an extracted tree according to the release policy.
type Stripper interface {
	Run(ctx context.Context, rel *release.Release, root string) error
}

// Archiver packages releases. It holds no per-release state, so one
// Archiver may package different releases concurrently.
type Archiver struct {
	codec       Codec
	locator     RuntimeLocator
	stripper    Stripper
	hooks       Hooks
	scratchRoot string
	removeAll   func(path string) error
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithCodec replaces the tar codec.
func WithCodec(codec Codec) Option {
	return func(a *Archiver) {
		if codec != nil {
			a.codec = codec
		}
	}
}

// WithRuntimeLocator replaces runtime discovery.
func WithRuntimeLocator(locator RuntimeLocator) Option {
	return func(a *Archiver) {
		if locator != nil {
			a.locator = locator
		}
	}
}

// WithStripper replaces the debug info stripper.
func WithStripper(s Stripper) Option {
	return func(a *Archiver) {
		if s != nil {
			a.stripper = s
		}
	}
}

// WithHooks sets the pre- and post-package hooks.
func WithHooks(hooks Hooks) Option {
	return func(a *Archiver) {
		if hooks != nil {
			a.hooks = hooks
		}
	}
}

// WithScratchRoot sets the parent directory of scratch directories.
// Empty means the system temporary directory.
func WithScratchRoot(dir string) Option {
	return func(a *Archiver) {
		a.scratchRoot = dir
	}
}

// New returns an Archiver with the tar codec, PATH-based runtime discovery,
// the BEAM stripper and no hooks, adjusted by opts.
func New(opts ...Option) *Archiver {
	a := &Archiver{
		codec:     archive.NewTar(),
		locator:   erts.NewLocator(""),
		stripper:  stripper.New(),
		hooks:     NopHooks{},
		removeAll: os.RemoveAll,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Archive packages rel and returns the absolute path of the final archive.
// A failure is a *StageError naming the step. When only the scratch
// directory cleanup fails, the returned path is still set.
func (a *Archiver) Archive(ctx context.Context, rel *release.Release) (string, error) {
	ctx = logger.WithFields(ctx,
		zap.String("release", rel.Name),
		zap.String("version", rel.Version),
		zap.Bool("upgrade", rel.IsUpgrade))

	prepared, err := a.hooks.BeforePackage(ctx, rel.Clone())
	if err != nil {
		return "", &StageError{Stage: StagePrePackage, Err: err}
	}

	if prepared == nil {
		prepared = rel.Clone()
	}

	logger.Info(ctx, "Building initial archive")

	if err = a.buildInitial(ctx, prepared); err != nil {
		return "", &StageError{Stage: StageBuildInitial, Err: err}
	}

	logger.Info(ctx, "Reshaping archive")

	archivePath, err := a.reshape(ctx, prepared)
	if err != nil {
		return absolute(archivePath), &StageError{Stage: StageReshape, Err: err}
	}

	if err = a.hooks.AfterPackage(ctx, prepared); err != nil {
		return "", &StageError{Stage: StagePostPackage, Err: err}
	}

	archivePath = absolute(archivePath)
	logger.InfoKV(ctx, "Release archive ready", "path", archivePath)

	return archivePath, nil
}

// runtimeFor resolves the runtime selected by policy; nil when it is omitted.
func (a *Archiver) runtimeFor(policy release.ErtsPolicy) (*erts.Installation, error) {
	switch policy.Mode {
	case release.ErtsBundleDefault:
		return a.locator.Active()
	case release.ErtsBundleFrom:
		return erts.FromPath(policy.Path)
	case release.ErtsOmit:
		return nil, nil //nolint:nilnil // No runtime is a valid outcome.
	default:
		return nil, fmt.Errorf("unknown runtime mode %d", policy.Mode)
	}
}

func absolute(path string) string {
	if path == "" {
		return ""
	}

	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}

	return path
}
