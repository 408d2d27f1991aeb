package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iVampireSP/weave/internal/directive"
)

// FileName is the optional configuration file at the module root.
const FileName = "weave.yaml"

// BuildConfig builds a Config from go.mod + generate.go + weave.yaml conventions.
func BuildConfig(moduleRoot string) (*Config, error) {
	module, err := parseModulePath(moduleRoot)
	if err != nil {
		return nil, err
	}

	cfg := Default(moduleRoot, module)
	if err := parseConfigFile(moduleRoot, cfg); err != nil {
		return nil, err
	}
	if err := parseGenerateFile(moduleRoot, cfg); err != nil {
		return nil, err
	}

	for i, dir := range cfg.Hints {
		if !filepath.IsAbs(dir) {
			cfg.Hints[i] = filepath.Join(moduleRoot, dir)
		}
	}
	if !filepath.IsAbs(cfg.CachePath) {
		cfg.CachePath = filepath.Join(moduleRoot, cfg.CachePath)
	}
	return cfg, nil
}

// FindModuleRoot walks up from dir to the nearest go.mod.
func FindModuleRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found")
		}
		dir = parent
	}
}

func parseModulePath(root string) (string, error) {
	f, err := os.Open(filepath.Join(root, "go.mod"))
	if err != nil {
		return "", fmt.Errorf("open go.mod: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "module ") {
			return strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "module ")), `"`), nil
		}
	}
	return "", fmt.Errorf("module directive not found in go.mod")
}

func parseConfigFile(root string, cfg *Config) error {
	data, err := os.ReadFile(filepath.Join(root, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", FileName, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", FileName, err)
	}
	return nil
}

// parseGenerateFile applies //weave:option lines from generate.go. The file
// is optional.
func parseGenerateFile(root string, cfg *Config) error {
	data, err := os.ReadFile(filepath.Join(root, "generate.go"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read generate.go: %w", err)
	}

	for i, line := range strings.Split(string(data), "\n") {
		d, ok := directive.Parse(line)
		if !ok || d.Name != directive.Option {
			continue
		}
		if err := applyOption(cfg, d.Arg(0), d.Args[min(1, len(d.Args)):]); err != nil {
			return fmt.Errorf("generate.go:%d: %w", i+1, err)
		}
	}
	return nil
}

// applyOption sets one named option:
//
//	//weave:option backend types
//	//weave:option generate-factories
//	//weave:option hints ../shared
func applyOption(cfg *Config, name string, args []string) error {
	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}
	flag := func() (bool, error) {
		if arg == "" {
			return true, nil
		}
		return strconv.ParseBool(arg)
	}

	var err error
	switch name {
	case "backend":
		cfg.Backend = arg
	case "generate-factories":
		cfg.GenerateFactories, err = flag()
	case "generate-factories-only":
		cfg.GenerateFactoriesOnly, err = flag()
	case "disable-component-merging":
		cfg.DisableComponentMerging, err = flag()
	case "track-source-files":
		cfg.TrackSourceFiles, err = flag()
	case "disable-deferral":
		cfg.DisableDeferral, err = flag()
	case "write-hints":
		cfg.WriteHints, err = flag()
	case "cache":
		cfg.CachePath = arg
	case "hints":
		cfg.Hints = append(cfg.Hints, args...)
	case "exclude":
		cfg.Exclude = append(cfg.Exclude, args...)
	case "max-rounds":
		cfg.MaxRounds, err = strconv.Atoi(arg)
	default:
		return fmt.Errorf("unknown option %q", name)
	}
	if err != nil {
		return fmt.Errorf("option %s: %w", name, err)
	}
	return nil
}
