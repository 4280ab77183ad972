package main

import (
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	"github.com/devicetree-tools/dtbuild/internal/config"
	"github.com/devicetree-tools/dtbuild/internal/logging"
	"github.com/devicetree-tools/dtbuild/internal/overlay"
	"github.com/devicetree-tools/dtbuild/internal/progress"
	"github.com/devicetree-tools/dtbuild/internal/service"
)

// Version is stamped by the release build.
var Version = "dev"

var logLevelIds = map[logging.Level][]string{
	logging.LevelError: {"error"},
	logging.LevelWarn:  {"warn"},
	logging.LevelInfo:  {"info"},
	logging.LevelDebug: {"debug"},
}

type rootParams struct {
	configFiles []string
	logLevel    logging.Level
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var params rootParams
	params.logLevel = logging.LevelInfo

	cmd := &cobra.Command{
		Use:           "dtbuild",
		Short:         "Build device-tree blob packages from declarative configuration",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringSliceVarP(&params.configFiles, "config", "c", []string{"dtbuild.yaml"}, "path to configuration file or directory (can be repeated)")
	cmd.PersistentFlags().Var(
		enumflag.New(&params.logLevel, "log-level", logLevelIds, enumflag.EnumCaseInsensitive),
		"log-level", "log level (error, warn, info, debug)")

	cmd.AddCommand(newBuildCommand(&params))
	cmd.AddCommand(newValidateCommand(&params))
	cmd.AddCommand(newListCommand(&params))
	cmd.AddCommand(newVersionCommand())
	cmd.CompletionOptions.DisableDefaultCmd = true
	return cmd
}

func newBuildCommand(params *rootParams) *cobra.Command {
	var (
		workDir     string
		workers     int
		strict      bool
		showBar     bool
		packageName string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build every enabled device-tree package",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := logging.NewLogger(logging.Config{Level: params.logLevel})

			root, err := loadConfig(params.configFiles, strict)
			if err != nil {
				return err
			}

			if packageName != "" {
				pkg, ok := root.Packages[packageName]
				if !ok {
					return fmt.Errorf("no package named %q", packageName)
				}
				if !pkg.Enabled {
					logger.Warnf("package %q is disabled in configuration; building it anyway as requested", packageName)
				}
				root = &config.Root{Packages: map[string]*config.Package{packageName: pkg}}
				pkg.Enabled = true
			}

			enabled := 0
			for _, pkg := range root.Packages {
				if pkg.Enabled {
					enabled++
				}
			}

			bar := progress.New(showBar, enabled, "building device-tree packages")

			results, err := service.New(root, logger).
				WithWorkDir(workDir).
				WithWorkers(workers).
				WithProgress(bar).
				Run(cmd.Context())
			if err != nil {
				return err
			}

			names := make([]string, 0, len(results))
			for name := range results {
				names = append(names, name)
			}
			slices.Sort(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, results[name])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workDir, "workdir", "", "directory for build outputs (temp directories if unset)")
	cmd.Flags().IntVar(&workers, "workers", 1, "maximum number of packages built in parallel")
	cmd.Flags().BoolVar(&strict, "strict", false, "error on conflicting values when merging config files")
	cmd.Flags().BoolVar(&showBar, "progress", false, "show a progress bar")
	cmd.Flags().StringVarP(&packageName, "package", "p", "", "build only the named package")
	return cmd
}

func newValidateCommand(params *rootParams) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration without building",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := loadConfig(params.configFiles, strict)
			if err != nil {
				return err
			}

			for _, pkg := range root.SortedPackages() {
				if err := overlay.Validate(pkg.Overlays); err != nil {
					return fmt.Errorf("package %q: %w", pkg.Name, err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d package(s) OK\n", len(root.Packages))
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "error on conflicting values when merging config files")
	return cmd
}

func newListCommand(params *rootParams) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured device-tree packages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := loadConfig(params.configFiles, false)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("NAME", "SOURCE", "OVERLAYS", "ENABLED")

			for _, pkg := range root.SortedPackages() {
				source := pkg.DtbSourceDir
				if pkg.DtsSource != nil {
					source = "dts:" + pkg.DtsSource.Name
				}
				if err := table.Append([]string{pkg.Name, source, strconv.Itoa(len(pkg.Overlays)), strconv.FormatBool(pkg.Enabled)}); err != nil {
					return err
				}
			}

			return table.Render()
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the dtbuild version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}

func loadConfig(files []string, strict bool) (*config.Root, error) {
	bs, err := config.Merge(files, strict)
	if err != nil {
		return nil, err
	}
	return config.Parse(bs)
}
