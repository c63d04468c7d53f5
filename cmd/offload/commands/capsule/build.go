package capsule

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/marmos91/offload/cmd/offload/cmdutil"
	"github.com/marmos91/offload/internal/bytesize"
	"github.com/marmos91/offload/internal/cli/prompt"
	"github.com/marmos91/offload/internal/logger"
	"github.com/marmos91/offload/pkg/capsule"
	"github.com/spf13/cobra"
)

var (
	buildFile  string
	buildForce bool
)

var buildCmd = &cobra.Command{
	Use:   "build <file.go> <function> [args...]",
	Short: "Generate the capsule for a function",
	Long: `Generate the capsule program for a top-level function of a Go file
without running it.

Arguments are JSON values decoded into the function's parameter types.
Words that are not valid JSON are passed as strings.

Examples:
  # Print the capsule for square(12)
  offload capsule build main.go square 12

  # Write it to a file and show a summary
  offload capsule build main.go square 12 --file capsule.go

  # Run it by hand
  go run capsule.go`,
	Args: cobra.MinimumNArgs(2),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&buildFile, "file", "f", "", "Output file (default: stdout)")
	buildCmd.Flags().BoolVar(&buildForce, "force", false, "Overwrite the output file without asking")
}

type buildResult struct {
	Unit    string            `json:"unit" yaml:"unit"`
	File    string            `json:"file" yaml:"file"`
	Size    int               `json:"size" yaml:"size"`
	Arity   int               `json:"arity" yaml:"arity"`
	Imports []string          `json:"imports" yaml:"imports"`
	Globals map[string]string `json:"globals" yaml:"globals"`
	Helpers int               `json:"helpers" yaml:"helpers"`
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if cmdutil.Flags.Verbose {
		logger.SetLevel("DEBUG")
	}

	builder := capsule.NewBuilder(
		capsule.WithExcludedImports(cfg.Capsule.ExcludedImports...),
		capsule.WithMaxSize(int(cfg.Capsule.MaxSize)))
	if err := builder.BindEntryFile(args[0]); err != nil {
		return err
	}
	prog, err := builder.BuildSource(args[1], cmdutil.ParseArgs(args[2:]))
	if err != nil {
		return err
	}

	if buildFile == "" {
		_, err := cmd.OutOrStdout().Write(prog.Source)
		return err
	}

	if _, err := os.Stat(buildFile); err == nil {
		ok, err := prompt.ConfirmOverwrite(buildFile, buildForce)
		if err != nil {
			if prompt.IsAborted(err) {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Aborted.")
				return nil
			}
			return err
		}
		if !ok {
			return nil
		}
	}
	if err := os.WriteFile(buildFile, prog.Source, 0644); err != nil {
		return fmt.Errorf("failed to write capsule: %w", err)
	}

	return printSummary(cmd, summarize(prog, buildFile))
}

func summarize(prog *capsule.Capsule, file string) buildResult {
	globals := make(map[string]string, len(prog.Globals))
	for name, binding := range prog.Globals {
		globals[name] = string(binding)
	}
	return buildResult{
		Unit:    prog.Unit,
		File:    file,
		Size:    prog.Size(),
		Arity:   prog.Arity,
		Imports: prog.Imports,
		Globals: globals,
		Helpers: prog.Helpers,
	}
}

func printSummary(cmd *cobra.Command, r buildResult) error {
	names := make([]string, 0, len(r.Globals))
	for name, binding := range r.Globals {
		names = append(names, name+" ("+binding+")")
	}
	sort.Strings(names)

	return cmdutil.PrintResource(cmd.OutOrStdout(), r, [][2]string{
		{"Unit", r.Unit},
		{"File", r.File},
		{"Size", bytesize.ByteSize(r.Size).Human()},
		{"Results", strconv.Itoa(r.Arity)},
		{"Imports", cmdutil.ValueOrDash(strings.Join(r.Imports, ", "))},
		{"Globals", cmdutil.ValueOrDash(strings.Join(names, ", "))},
		{"Helpers", strconv.Itoa(r.Helpers)},
	})
}
