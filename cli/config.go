package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/compozy/autoflow/pkg/config"
	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
)

const (
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatTable = "table"
)

// ConfigCmd returns the config command
func ConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration inspection",
	}
	cmd.AddCommand(configShowCmd(), configValidateCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	var (
		format      string
		showSources bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration and where each value came from",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configFile, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			cfg, sources, err := loadConfigWithSources(cmd.Context(), cmd, configFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return formatConfigOutput(cmd.OutOrStdout(), cfg, sources, format, showSources)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format (json, yaml, table)")
	cmd.Flags().BoolVarP(&showSources, "sources", "s", false, "Show configuration sources")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and environment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFromCmd(cmd)
			if err != nil {
				return err
			}
			if err := config.NewService().Validate(cfg); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}
}

// loadConfigWithSources layers defaults, the YAML file, AUTOFLOW_* variables and
// changed CLI flags, and reports non-default sources per key.
func loadConfigWithSources(
	ctx context.Context,
	cmd *cobra.Command,
	configFile string,
) (*config.Config, map[string]config.SourceType, error) {
	service := config.NewService()
	sources := []config.Source{config.NewDefaultProvider()}
	if configFile != "" {
		sources = append(sources, config.NewYAMLProvider(configFile))
	}
	cliFlags := make(map[string]any)
	extractCLIFlags(cmd, cliFlags)
	if len(cliFlags) > 0 {
		sources = append(sources, config.NewCLIProvider(cliFlags))
	}
	cfg, err := service.Load(ctx, sources...)
	if err != nil {
		return nil, nil, err
	}
	sourceMap := make(map[string]config.SourceType)
	collectSources(service, "", reflect.ValueOf(cfg).Elem(), sourceMap)
	return cfg, sourceMap, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

func collectSources(service config.Service, prefix string, val reflect.Value, out map[string]config.SourceType) {
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("koanf")
		if !field.IsExported() || tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := val.Field(i)
		if fv.Kind() == reflect.Struct && field.Type != durationType {
			collectSources(service, key, fv, out)
			continue
		}
		if src := service.GetSource(key); src != "" && src != config.SourceDefault {
			out[key] = src
		}
	}
}

func formatConfigOutput(
	w io.Writer,
	cfg *config.Config,
	sources map[string]config.SourceType,
	format string,
	showSources bool,
) error {
	tree, err := redactedTree(cfg)
	if err != nil {
		return err
	}
	output := map[string]any{"config": tree}
	if showSources {
		output["sources"] = sources
	}
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(output)
	case formatYAML:
		data, err := yaml.Marshal(output)
		if err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		_, err = w.Write(data)
		return err
	case formatTable:
		return outputTable(w, tree, sources, showSources)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// redactedTree mirrors the koanf layout, with secrets in redacted form.
func redactedTree(cfg *config.Config) (map[string]any, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return configTree(reflect.ValueOf(cfg).Elem()), nil
}

var sensitiveType = reflect.TypeOf(config.SensitiveString(""))

func configTree(val reflect.Value) map[string]any {
	out := make(map[string]any)
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("koanf")
		if !field.IsExported() || tag == "" || tag == "-" {
			continue
		}
		fv := val.Field(i)
		switch {
		case field.Type == sensitiveType:
			out[tag] = fv.Interface().(config.SensitiveString).String()
		case field.Type == durationType:
			out[tag] = time.Duration(fv.Int()).String()
		case fv.Kind() == reflect.Struct:
			out[tag] = configTree(fv)
		default:
			out[tag] = fv.Interface()
		}
	}
	return out
}

func outputTable(w io.Writer, tree map[string]any, sources map[string]config.SourceType, showSources bool) error {
	flat := make(map[string]any)
	flatten("", tree, flat)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if showSources {
		fmt.Fprintln(tw, "KEY\tVALUE\tSOURCE")
	} else {
		fmt.Fprintln(tw, "KEY\tVALUE")
	}
	for _, key := range keys {
		if !showSources {
			fmt.Fprintf(tw, "%s\t%v\n", key, flat[key])
			continue
		}
		source := sources[key]
		if source == "" {
			source = config.SourceDefault
		}
		fmt.Fprintf(tw, "%s\t%v\t%s\n", key, flat[key], source)
	}
	return tw.Flush()
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}
