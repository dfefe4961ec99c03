package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/vecmem/pkg/core"
	"github.com/liliang-cn/vecmem/pkg/vecmem"
)

// withMemory loads configuration, initializes the store, runs fn and closes
// the store again
func withMemory(cmd *cobra.Command, fn func(m *vecmem.Memory) error) error {
	configFile, _ := cmd.Flags().GetString("config")
	config, err := loadConfig(cmd.Flags(), configFile)
	if err != nil {
		return err
	}

	m := vecmem.New(vecmem.WithConfig(config.storeConfig()))
	if err := m.Initialize(cmd.Context(), config.DB); err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = m.Close() }()

	return fn(m)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vecmem",
		Short:         "CLI tool for the local vector memory store",
		Long:          `A command-line interface for saving, querying and maintaining embeddings in a local vector store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (env VECMEM_CONFIG)")
	flags.StringP("db", "d", "", "Store file path (default under the user config directory)")
	flags.Int("batch-size", 100, "Records per save or existence batch")
	flags.Int("max-threads", 4, "Upper bound for storage engine threads")
	flags.Int64("memory-limit", 256<<20, "Storage engine soft memory limit in bytes")
	flags.Bool("disable-acceleration", false, "Skip loading the similarity functions")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newInitCmd(),
		newAddCmd(),
		newBatchCmd(),
		newQueryCmd(),
		newExistsCmd(),
		newCountCmd(),
		newStatsCmd(),
		newClearCmd(),
		newDumpCmd(),
		newLoadCmd(),
		newBackupCmd(),
	)
	return rootCmd
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the vector store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMemory(cmd, func(m *vecmem.Memory) error {
				store := m.Store()
				fmt.Fprintf(cmd.OutOrStdout(), "Vector store initialized at %s (accelerated: %v)\n",
					store.Config().Path, store.Accelerated())
				return nil
			})
		},
	}
}

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [id]",
		Short: "Add or replace one vector; a UUID is generated when id is omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := uuid.New().String()
			if len(args) == 1 {
				id = args[0]
			}

			vectorStr, _ := cmd.Flags().GetString("vector")
			values, err := parseVector(vectorStr)
			if err != nil {
				return err
			}

			metadataStr, _ := cmd.Flags().GetString("metadata")
			var metadata map[string]any
			if metadataStr != "" {
				if err := json.Unmarshal([]byte(metadataStr), &metadata); err != nil {
					return fmt.Errorf("invalid metadata JSON: %w", err)
				}
			}

			return withMemory(cmd, func(m *vecmem.Memory) error {
				resp, err := m.Save(cmd.Context(), []vecmem.VectorInput{{ID: id, Values: values, Metadata: metadata}})
				if err != nil {
					return err
				}
				if !resp.Success {
					return fmt.Errorf("failed to add %s: %s", id, resp.Error)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Vector '%s' saved\n", id)
				return nil
			})
		},
	}
	cmd.Flags().String("vector", "", "Vector values (comma-separated)")
	cmd.Flags().String("metadata", "", "Metadata as JSON")
	_ = cmd.MarkFlagRequired("vector")
	return cmd
}

func newBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch <file.json>",
		Short: "Save a JSON array of {id, values, metadata} records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read batch file: %w", err)
			}
			var vectors []vecmem.VectorInput
			if err := json.Unmarshal(data, &vectors); err != nil {
				return fmt.Errorf("invalid batch file: %w", err)
			}

			return withMemory(cmd, func(m *vecmem.Memory) error {
				resp, err := m.Save(cmd.Context(), vectors)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Saved %d of %d records\n", resp.Saved, len(vectors))
				if !resp.Success {
					fmt.Fprintf(out, "Failed: %s\n", strings.Join(resp.Failed, ", "))
					fmt.Fprintf(out, "Last error: %s\n", resp.Error)
				}
				return nil
			})
		},
	}
}

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Search for similar vectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			vectorStr, _ := cmd.Flags().GetString("vector")
			values, err := parseVector(vectorStr)
			if err != nil {
				return err
			}
			topK, _ := cmd.Flags().GetInt("top-k")
			keywords, _ := cmd.Flags().GetStringSlice("keyword")
			filterArgs, _ := cmd.Flags().GetStringArray("filter")
			filters, err := parseFilters(filterArgs)
			if err != nil {
				return err
			}

			req := vecmem.QueryRequest{Embedding: values, TopK: topK, Keywords: keywords, Filters: filters}
			if cmd.Flags().Changed("threshold") {
				threshold, _ := cmd.Flags().GetFloat64("threshold")
				req.Threshold = &threshold
			}

			return withMemory(cmd, func(m *vecmem.Memory) error {
				resp, err := m.Query(cmd.Context(), req)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
					return writeJSON(out, resp)
				}
				if len(resp.Matches) == 0 {
					fmt.Fprintln(out, "No matches")
					return nil
				}
				for i, match := range resp.Matches {
					fmt.Fprintf(out, "%d. %s (score: %.4f)", i+1, match.ID, match.Score)
					if content, _ := match.Metadata["content"].(string); content != "" {
						fmt.Fprintf(out, " %s", truncate(content, 80))
					}
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("vector", "", "Query vector (comma-separated)")
	cmd.Flags().Int("top-k", 0, "Number of results (default from config)")
	cmd.Flags().StringSlice("keyword", nil, "Keyword that must appear in content, title or text (repeatable)")
	cmd.Flags().StringArray("filter", nil, "Metadata equality filter key=value (repeatable)")
	cmd.Flags().Float64("threshold", 0, "Similarity threshold (default from the threshold policy)")
	cmd.Flags().Bool("json", false, "Output as JSON")
	_ = cmd.MarkFlagRequired("vector")
	return cmd
}

func newExistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exists <id>...",
		Short: "Print which of the given ids are stored",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMemory(cmd, func(m *vecmem.Memory) error {
				existing, err := m.CheckExisting(cmd.Context(), args)
				if err != nil {
					return err
				}
				for _, id := range existing {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}

func newCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of stored vectors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMemory(cmd, func(m *vecmem.Memory) error {
				n, err := m.Count(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Display store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMemory(cmd, func(m *vecmem.Memory) error {
				store := m.Store()
				analysis, err := store.AnalyzeDimensions(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
					return writeJSON(out, map[string]any{
						"path":        store.Config().Path,
						"accelerated": store.Accelerated(),
						"dimensions":  analysis,
					})
				}
				fmt.Fprintf(out, "Store: %s\n", store.Config().Path)
				fmt.Fprintf(out, "  Accelerated: %v\n", store.Accelerated())
				fmt.Fprintf(out, "  Vectors: %d\n", analysis.TotalVectors)
				if analysis.TotalVectors > 0 {
					fmt.Fprintf(out, "  Primary dimension: %d (%d vectors)\n", analysis.PrimaryDim, analysis.PrimaryCount)
				}
				if analysis.Mixed {
					fmt.Fprintf(out, "  Mixed dimensions: %v\n", analysis.Dimensions)
				}
				return nil
			})
		},
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored vector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if force, _ := cmd.Flags().GetBool("force"); !force {
				return fmt.Errorf("refusing to clear the store without --force")
			}
			return withMemory(cmd, func(m *vecmem.Memory) error {
				if err := m.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Store cleared")
				return nil
			})
		},
	}
	cmd.Flags().Bool("force", false, "Skip confirmation")
	return cmd
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <file.jsonl>",
		Short: "Export every record as JSON Lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMemory(cmd, func(m *vecmem.Memory) error {
				stats, err := m.Store().DumpToFile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Dumped %d records (%d bytes) to %s\n", stats.Records, stats.BytesWritten, args[0])
				return nil
			})
		},
	}
}

func newLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <file.jsonl>",
		Short: "Import records written by dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			skip, _ := cmd.Flags().GetBool("skip-existing")
			replace, _ := cmd.Flags().GetBool("replace")
			quiet, _ := cmd.Flags().GetBool("quiet")

			opts := core.ImportOptions{SkipExisting: skip, Replace: replace}
			if !quiet {
				opts.Progress = func(processed, _ int) {
					fmt.Fprintf(cmd.ErrOrStderr(), "\rread %d records", processed)
				}
			}

			return withMemory(cmd, func(m *vecmem.Memory) error {
				stats, err := m.Store().ImportFromFile(cmd.Context(), args[0], opts)
				if !quiet {
					fmt.Fprintln(cmd.ErrOrStderr())
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Import finished: %s\n", stats)
				return nil
			})
		},
	}
	cmd.Flags().Bool("skip-existing", false, "Skip records whose id is already stored")
	cmd.Flags().Bool("replace", false, "Clear the store before importing")
	cmd.Flags().BoolP("quiet", "q", false, "Do not print progress")
	return cmd
}

func newBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <file>",
		Short: "Write a consistent copy of the store file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMemory(cmd, func(m *vecmem.Memory) error {
				if err := m.Store().Backup(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", args[0])
				return nil
			})
		},
	}
}

func parseVector(str string) ([]float64, error) {
	str = strings.Trim(strings.TrimSpace(str), "[]")
	if str == "" {
		return nil, fmt.Errorf("vector is required")
	}
	parts := strings.Split(str, ",")
	vector := make([]float64, 0, len(parts))
	for _, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid vector format: %w", err)
		}
		vector = append(vector, val)
	}
	return vector, nil
}

// parseFilters parses key=value pairs. Values that are valid JSON scalars
// (numbers, true, false, null) keep their type; anything else is a string.
func parseFilters(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filters := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q, expected key=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		switch value.(type) {
		case map[string]any, []any:
			value = raw
		}
		filters[key] = value
	}
	return filters, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
