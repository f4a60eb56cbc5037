package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"scriptroom/internal/engine"
	"scriptroom/internal/events"
	"scriptroom/internal/execution"
	"scriptroom/internal/script"
)

func newCheckCmd() *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Parse a script file and compile its body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}
			return checkScript(cmd.OutOrStdout(), string(data), language)
		},
	}
	cmd.Flags().StringVar(&language, "language", script.LanguageJavaScript, "language for files that do not declare one")
	return cmd
}

// checkScript prints the parsed record as YAML, then compiles it and notes
// the capability set it compiled against.
func checkScript(w io.Writer, text, language string) error {
	rec, err := script.ParseRecord(text)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if _, err := w.Write(out); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(execution.NewRegistry(), nil, events.LogNotifier{Logger: logger}, logger, engine.Config{
		DefaultLanguage: language,
		Capabilities:    capabilities(nil, nil, logger),
	})
	defer eng.Close()
	if err := eng.Validate(rec); err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	caps := eng.Capabilities()
	modules := make([]string, len(caps.Modules))
	for i, m := range caps.Modules {
		modules[i] = m.Name
	}
	if _, err := fmt.Fprintf(w, "# compiled against capabilities v%s: %s\n", caps.Version, strings.Join(modules, ", ")); err != nil {
		return err
	}
	return nil
}
