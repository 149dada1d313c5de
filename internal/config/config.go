package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/relpack/internal/domain/release"
)

// Config describes one packaging run.
type Config struct {
	// Name is the release name.
	Name string `yaml:"name" validate:"required,excludesall=/\\"`
	// Version is the release version.
	Version string `yaml:"version" validate:"required,excludesall=/\\"`
	// OutputDir is the assembled release tree.
	OutputDir string `yaml:"output_dir" validate:"required"`
	// Upgrade marks a release that ships upgrade instructions.
	Upgrade bool `yaml:"upgrade"`
	// RuntimeRoot overrides discovery of the active runtime installation.
	RuntimeRoot string `yaml:"runtime_root,omitempty"`
	// ScratchDir is the parent of scratch directories; empty means the system temp dir.
	ScratchDir string `yaml:"scratch_dir,omitempty"`
	// Profile is the packaging policy.
	Profile Profile `yaml:"profile"`
	// Overlays are extra files appended to the archive in order.
	Overlays []Overlay `yaml:"overlays,omitempty" validate:"dive"`
	// Hooks are shell commands run around packaging.
	Hooks Hooks `yaml:"hooks,omitempty"`

	// baseDir is the directory of the loaded file.
	baseDir string
}

// Profile mirrors release.Profile in the job file.
type Profile struct {
	// IncludeSrc adds src, include and c_src of every application.
	IncludeSrc bool `yaml:"include_src"`
	// IncludeErts is true, false or the path of a runtime to bundle.
	IncludeErts release.ErtsPolicy `yaml:"include_erts"`
	// IncludeSystemLibs keeps system libraries when the runtime is omitted.
	IncludeSystemLibs bool `yaml:"include_system_libs"`
	// StripDebugInfo removes debug chunks from compiled modules.
	StripDebugInfo bool `yaml:"strip_debug_info"`
	// DevMode marks a tree whose libraries link into the build directory.
	DevMode bool `yaml:"dev_mode"`
}

// Overlay maps a file on disk to a path inside the archive.
type Overlay struct {
	// ArchivePath is the relative slash-separated path inside the archive.
	ArchivePath string `yaml:"archive_path" validate:"required,archivepath"`
	// Source is the file on disk, relative to the job file.
	Source string `yaml:"source" validate:"required"`
}

// Hooks lists shell commands run before and after packaging.
type Hooks struct {
	// PrePackage runs before the initial archive is built.
	PrePackage []string `yaml:"pre_package,omitempty" validate:"dive,required"`
	// PostPackage runs after the final archive is written.
	PostPackage []string `yaml:"post_package,omitempty" validate:"dive,required"`
}

const (
	// DefaultConfigFilename is the job file looked up when none is given.
	DefaultConfigFilename = "relpack.yaml"

	// DefaultFilePermissions is the permission of saved job files.
	DefaultFilePermissions = 0o644
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")

	//nolint:gochecknoglobals // The validator caches struct metadata and is safe for concurrent use.
	validate     *validator.Validate
	validateOnce sync.Once
)

// Load reads the job file at path, validates it and resolves relative paths.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	contents, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(contents))
	decoder.KnownFields(true)

	var cfg Config
	if err = decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	cfg.baseDir = filepath.Dir(abs)
	cfg.resolvePaths()

	return &cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal configuration: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}

	return nil
}

// Validate checks required fields and path formats.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	err := validatorInstance().Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate configuration: %w", err)
	}

	problems := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		problems = append(problems, fmt.Sprintf("%s: failed %q", fieldErr.Namespace(), fieldErr.Tag()))
	}

	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
}

// BaseDir returns the directory relative paths were resolved against.
func (c *Config) BaseDir() string {
	return c.baseDir
}

// Release converts the job file into the domain release.
func (c *Config) Release() *release.Release {
	overlays := make([]release.Overlay, 0, len(c.Overlays))
	for _, overlay := range c.Overlays {
		overlays = append(overlays, release.Overlay{
			ArchivePath: overlay.ArchivePath,
			Source:      overlay.Source,
		})
	}

	return &release.Release{
		Name:      c.Name,
		Version:   c.Version,
		OutputDir: c.OutputDir,
		IsUpgrade: c.Upgrade,
		Overlays:  overlays,
		Profile: release.Profile{
			IncludeSrc:        c.Profile.IncludeSrc,
			IncludeErts:       c.Profile.IncludeErts,
			IncludeSystemLibs: c.Profile.IncludeSystemLibs,
			StripDebugInfo:    c.Profile.StripDebugInfo,
			DevMode:           c.Profile.DevMode,
		},
	}
}

// Example returns a starter job file for the release name.
func Example(name string) *Config {
	return &Config{
		Name:      name,
		Version:   "0.1.0",
		OutputDir: filepath.Join("_build", "prod", "rel", name),
		Profile: Profile{
			IncludeErts: release.BundleDefaultErts(),
		},
	}
}

func (c *Config) resolvePaths() {
	c.OutputDir = c.resolve(c.OutputDir)
	c.RuntimeRoot = c.resolve(c.RuntimeRoot)
	c.ScratchDir = c.resolve(c.ScratchDir)

	if c.Profile.IncludeErts.Mode == release.ErtsBundleFrom {
		c.Profile.IncludeErts.Path = c.resolve(c.Profile.IncludeErts.Path)
	}

	for i := range c.Overlays {
		c.Overlays[i].Source = c.resolve(c.Overlays[i].Source)
	}
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(c.baseDir, p)
}

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("archivepath", isArchivePath)
	})

	return validate
}

// isArchivePath accepts relative slash-separated paths that stay inside the archive.
func isArchivePath(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" || strings.HasPrefix(value, "/") || strings.Contains(value, "\\") {
		return false
	}

	cleaned := path.Clean(value)

	return cleaned != "." && cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}
