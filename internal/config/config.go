// Package config defines the command line configuration of portexport.
// Values come from flags, PORT_* environment variables and an optional YAML file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dnswlt/portexport/internal/export"
	"github.com/dnswlt/portexport/internal/port"
	"github.com/dnswlt/portexport/internal/query"
	"github.com/peterbourgon/ff/v3"
	"gopkg.in/yaml.v3"
)

// EnvVarPrefix is the prefix of environment variables that set flags,
// e.g. PORT_CLIENT_ID for -client-id.
const EnvVarPrefix = "PORT"

const (
	DefaultOutput  = "port_entities"
	DefaultLogFile = "port_exporter.log"
)

// ErrConfig marks invalid or incomplete configuration.
var ErrConfig = errors.New("configuration error")

// Config holds all options of an export run.
type Config struct {
	All        bool
	Blueprints []string
	Entities   []string
	Exclude    []string

	Output            string
	Format            string
	IncludeCalculated bool

	ClientID     string
	ClientSecret string
	BaseURL      string
	Timeout      time.Duration

	Verbose bool
	LogFile string

	Filter          string
	EntityCacheSize int
	MetricsFile     string
	Report          string
	GitCommit       bool

	ConfigFile string
	Version    bool
}

// listValue is a flag.Value for comma separated lists. Repeated flags append.
type listValue struct {
	items *[]string
}

func (l listValue) String() string {
	if l.items == nil {
		return ""
	}
	return strings.Join(*l.items, ",")
}

func (l listValue) Set(s string) error {
	*l.items = append(*l.items, SplitList(s)...)
	return nil
}

// SplitList splits s at commas, trims the items and drops empty ones.
func SplitList(s string) []string {
	var items []string
	for _, it := range strings.Split(s, ",") {
		if it = strings.TrimSpace(it); it != "" {
			items = append(items, it)
		}
	}
	return items
}

// RegisterFlags defines all flags on fs and returns the Config they populate.
func RegisterFlags(fs *flag.FlagSet) *Config {
	c := &Config{}
	fs.BoolVar(&c.All, "all", false, "Export all entities from all blueprints")
	fs.Var(listValue{&c.Blueprints}, "blueprints", "Comma-separated list of blueprint identifiers to export")
	fs.Var(listValue{&c.Entities}, "entities", "Comma-separated list of entity identifiers to export (format: blueprint:entity or just entity)")
	fs.Var(listValue{&c.Exclude}, "exclude", "Comma-separated list of entity identifiers to exclude from export")

	fs.StringVar(&c.Output, "output", DefaultOutput, "Output file name; the format is appended as extension if missing")
	fs.StringVar(&c.Output, "o", DefaultOutput, "Shorthand for -output")
	fs.StringVar(&c.Format, "format", string(export.FormatJSON), "Output format (json, yaml, csv)")
	fs.StringVar(&c.Format, "f", string(export.FormatJSON), "Shorthand for -format")
	fs.BoolVar(&c.IncludeCalculated, "include-calculated", true, "Include calculated properties")

	fs.StringVar(&c.ClientID, "client-id", "", "Port client ID")
	fs.StringVar(&c.ClientSecret, "client-secret", "", "Port client secret")
	fs.StringVar(&c.BaseURL, "base-url", port.DefaultBaseURL, "Port API base URL")
	fs.DurationVar(&c.Timeout, "timeout", 0, "Timeout of individual HTTP requests (0 means no timeout)")

	fs.BoolVar(&c.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&c.Verbose, "v", false, "Shorthand for -verbose")
	fs.StringVar(&c.LogFile, "log-file", DefaultLogFile, "File to append log output to (empty disables file logging)")

	fs.StringVar(&c.Filter, "filter", "", "Query expression that exported entities must match (all and blueprints modes)")
	fs.IntVar(&c.EntityCacheSize, "entity-cache-size", 0, "Max. number of single entity lookups to cache; repeated specs are then fetched once (0, the default, fetches every spec)")
	fs.StringVar(&c.MetricsFile, "metrics-file", "", "Write Prometheus metrics of the run to this file")
	fs.StringVar(&c.Report, "report", "", "Write an export report to this file (.md or .html)")
	fs.BoolVar(&c.GitCommit, "git-commit", false, "Commit the output file to the git repository containing it")

	fs.StringVar(&c.ConfigFile, "config", "", "Optional YAML file with flag values")
	fs.BoolVar(&c.Version, "version", false, "Print the version and exit")
	return c
}

// Parse parses args and PORT_* environment variables into the flags of fs.
// Values from the -config file have the lowest precedence.
func Parse(fs *flag.FlagSet, args []string) error {
	return ff.Parse(fs, args,
		ff.WithEnvVarPrefix(EnvVarPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(YAMLParser),
	)
}

// YAMLParser is an ff.ConfigFileParser for flat YAML mappings.
// Keys are flag names; a sequence value sets the flag once per item.
func YAMLParser(r io.Reader, set func(name, value string) error) error {
	var doc yaml.Node
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid config YAML: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("config YAML must be a mapping, got %s at line %d", kindName(root.Kind), root.Line)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		switch val.Kind {
		case yaml.ScalarNode:
			if err := set(key.Value, val.Value); err != nil {
				return err
			}
		case yaml.SequenceNode:
			for _, item := range val.Content {
				if item.Kind != yaml.ScalarNode {
					return fmt.Errorf("config key %q: list items must be scalars (line %d)", key.Value, item.Line)
				}
				if err := set(key.Value, item.Value); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("config key %q: unsupported %s value (line %d)", key.Value, kindName(val.Kind), val.Line)
		}
	}
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "unknown"
}

// Validate checks credentials, the scope selectors, the format and the filter.
// All errors wrap ErrConfig.
func (c *Config) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("%w: PORT_CLIENT_ID and PORT_CLIENT_SECRET must be provided; set them as environment variables or use -client-id and -client-secret", ErrConfig)
	}
	n := 0
	for _, set := range []bool{c.All, len(c.Blueprints) > 0, len(c.Entities) > 0} {
		if set {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("%w: you must specify exactly one export option: -all, -blueprints, or -entities", ErrConfig)
	}
	if _, err := export.ParseFormat(c.Format); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if c.Filter != "" {
		if _, err := query.Compile(c.Filter); err != nil {
			return fmt.Errorf("%w: invalid filter: %w", ErrConfig, err)
		}
	}
	if c.EntityCacheSize < 0 {
		return fmt.Errorf("%w: -entity-cache-size must not be negative", ErrConfig)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: -timeout must not be negative", ErrConfig)
	}
	return nil
}

// OutputFormat returns the parsed output format.
func (c *Config) OutputFormat() export.Format {
	f, err := export.ParseFormat(c.Format)
	if err != nil {
		return export.FormatJSON
	}
	return f
}

// OutputPath returns Output with ".<format>" appended unless it already ends with it.
func (c *Config) OutputPath() string {
	ext := "." + string(c.OutputFormat())
	if strings.HasSuffix(c.Output, ext) {
		return c.Output
	}
	return c.Output + ext
}

// Scope returns the export scope selected by the flags.
func (c *Config) Scope() export.Scope {
	s := export.Scope{
		Exclude:           export.NewSet(c.Exclude...),
		IncludeCalculated: c.IncludeCalculated,
	}
	switch {
	case c.All:
		s.Mode = export.ModeAll
	case len(c.Blueprints) > 0:
		s.Mode = export.ModeBlueprints
		s.Blueprints = c.Blueprints
	case len(c.Entities) > 0:
		s.Mode = export.ModeEntities
		s.Entities = c.Entities
	}
	return s
}

// Describe returns the line announcing what is about to be exported.
func (c *Config) Describe() string {
	switch {
	case c.All:
		return "Exporting all entities from all blueprints..."
	case len(c.Blueprints) > 0:
		return "Exporting entities from blueprints: " + strings.Join(c.Blueprints, ", ")
	case len(c.Entities) > 0:
		return "Exporting specific entities: " + strings.Join(c.Entities, ", ")
	}
	return ""
}
