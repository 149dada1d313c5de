package packager

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/relpack/internal/archive"
	"github.com/oshokin/relpack/internal/config"
	"github.com/oshokin/relpack/internal/erts"
	"github.com/oshokin/relpack/internal/logger"
	"github.com/oshokin/relpack/internal/repository/lock"
	"github.com/oshokin/relpack/internal/service/archiver"
	"github.com/oshokin/relpack/internal/version"
)

// DescriptionSuffix is appended to the archive path to name the release description.
const DescriptionSuffix = ".yaml"

// descriptionFileMode is the permission of release descriptions.
const descriptionFileMode os.FileMode = 0o644

// errConfigExists is returned by Init when it would overwrite a job file.
var errConfigExists = errors.New("configuration file already exists")

// Options contains inputs for the packager entry point.
type Options struct {
	// ConfigPath is the job file; empty means config.DefaultConfigFilename.
	ConfigPath string
	// Upgrade overrides the job file's upgrade flag when set.
	Upgrade *bool
	// StripDebugInfo overrides the profile when set.
	StripDebugInfo *bool
	// DevMode overrides the profile when set.
	DevMode *bool
}

// Description summarizes a finished archive.
type Description struct {
	// Name is the release name.
	Name string `yaml:"name"`
	// Version is the release version.
	Version string `yaml:"version"`
	// Upgrade tells whether the archive carries upgrade instructions.
	Upgrade bool `yaml:"upgrade"`
	// Archive is the absolute path of the archive.
	Archive string `yaml:"archive"`
	// Size is the archive size in bytes.
	Size int64 `yaml:"size"`
	// Members is the number of archive members.
	Members int `yaml:"members"`
	// Digest is the hex blake3 digest of the archive.
	Digest string `yaml:"blake3"`
	// PackagedBy is the relpack version that wrote the archive.
	PackagedBy string `yaml:"packaged_by"`
}

// packager runs one packaging job. Callers should use Run.
type packager struct {
	// cfg is the loaded job file with overrides applied.
	cfg *config.Config
	// lock serializes runs on the output directory.
	lock *lock.FileLock
	// archiver builds the archive.
	archiver *archiver.Archiver
}

// Run executes the packaging workflow and returns the description of the archive.
func Run(ctx context.Context, opts *Options) (*Description, error) {
	ctx = logger.WithName(ctx, "relpack")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	opts.apply(cfg)

	desc, err := newPackager(cfg).Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("packager failed: %w", err)
	}

	logger.InfoKV(ctx, "Packager completed successfully", "archive", desc.Archive, "size", desc.Size)

	return desc, nil
}

// Init writes a starter job file for the release name.
func Init(ctx context.Context, path, name string, force bool) error {
	if path == "" {
		path = config.DefaultConfigFilename
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%w: %s", errConfigExists, path)
	}

	if err := config.Save(path, config.Example(name)); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Wrote job file", "path", path)

	return nil
}

func (o *Options) apply(cfg *config.Config) {
	if o.Upgrade != nil {
		cfg.Upgrade = *o.Upgrade
	}

	if o.StripDebugInfo != nil {
		cfg.Profile.StripDebugInfo = *o.StripDebugInfo
	}

	if o.DevMode != nil {
		cfg.Profile.DevMode = *o.DevMode
	}
}

func newPackager(cfg *config.Config) *packager {
	hooks := &archiver.CommandHooks{
		Pre:  cfg.Hooks.PrePackage,
		Post: cfg.Hooks.PostPackage,
		Dir:  cfg.BaseDir(),
	}

	return &packager{
		cfg:  cfg,
		lock: lock.ForDir(cfg.OutputDir),
		archiver: archiver.New(
			archiver.WithRuntimeLocator(erts.NewLocator(cfg.RuntimeRoot)),
			archiver.WithScratchRoot(cfg.ScratchDir),
			archiver.WithHooks(hooks),
		),
	}
}

// Run packages the release while holding the output directory lock.
func (p *packager) Run(ctx context.Context) (*Description, error) {
	if err := p.lock.Acquire(); err != nil {
		return nil, err
	}

	defer func() {
		if err := p.lock.Release(); err != nil {
			logger.WarnKV(ctx, "Failed to release lock", "path", p.lock.Path(), "error", err)
		}
	}()

	rel := p.cfg.Release()

	logger.InfoKV(ctx, "Packaging release",
		"name", rel.Name,
		"version", rel.Version,
		"upgrade", rel.IsUpgrade,
		"include_erts", rel.Profile.IncludeErts.String())

	archivePath, err := p.archiver.Archive(ctx, rel)
	if err != nil {
		return nil, err
	}

	desc, err := describe(archivePath)
	if err != nil {
		return nil, fmt.Errorf("describe archive: %w", err)
	}

	desc.Name = rel.Name
	desc.Version = rel.Version
	desc.Upgrade = rel.IsUpgrade

	if err = saveDescription(archivePath+DescriptionSuffix, desc); err != nil {
		return nil, err
	}

	return desc, nil
}

// describe measures the archive at path.
func describe(path string) (*Description, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = file.Close()
	}()

	hasher := blake3.New()

	size, err := io.Copy(hasher, file)
	if err != nil {
		return nil, fmt.Errorf("hash archive: %w", err)
	}

	names, err := archive.NewTar().List(path)
	if err != nil {
		return nil, err
	}

	return &Description{
		Archive:    path,
		Size:       size,
		Members:    len(names),
		Digest:     hex.EncodeToString(hasher.Sum(nil)),
		PackagedBy: version.Short(),
	}, nil
}

// LoadDescription reads a release description written next to an archive.
func LoadDescription(path string) (*Description, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var desc Description
	if err = yaml.Unmarshal(contents, &desc); err != nil {
		return nil, fmt.Errorf("unmarshal description: %w", err)
	}

	return &desc, nil
}

func saveDescription(path string, desc *Description) error {
	contents, err := yaml.Marshal(desc)
	if err != nil {
		return fmt.Errorf("marshal description: %w", err)
	}

	if err = os.WriteFile(path, contents, descriptionFileMode); err != nil {
		return fmt.Errorf("write description: %w", err)
	}

	return nil
}
