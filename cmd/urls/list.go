// Package urls implements the command-line interface for inspecting tracked
// dataset URLs. This file contains the list command that displays the
// registry's rows in a formatted table.
package urls

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/goregistry/internal/config"
	"github.com/jonesrussell/goregistry/internal/database"
	"github.com/jonesrussell/goregistry/internal/domain"
	"github.com/jonesrussell/goregistry/internal/logger"
)

// TableRenderer handles the display of dataset URL rows in a table format.
type TableRenderer struct {
	logger logger.Interface
}

// NewTableRenderer creates a new TableRenderer instance.
func NewTableRenderer(log logger.Interface) *TableRenderer {
	return &TableRenderer{
		logger: log,
	}
}

// RenderTable formats and displays the dataset URLs in a table format.
func (r *TableRenderer) RenderTable(urls []*domain.DatasetURL, total int) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"ID", "URL", "Processed", "Head", "Last Updated", "Failed Checks"})

	for _, row := range urls {
		t.AppendRow(table.Row{
			row.ID,
			row.URL,
			row.Processed,
			describeHead(row),
			formatTime(row.LastUpdatedAt),
			row.FailedCheckCount,
		})
	}

	t.Render()
	fmt.Printf("%d of %d tracked URLs\n", len(urls), total)
}

// describeHead prefers the human-readable describe over the raw head hash.
func describeHead(row *domain.DatasetURL) string {
	if row.HeadDescribe != nil {
		return *row.HeadDescribe
	}
	if row.Head != nil {
		return *row.Head
	}
	return "-"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

// listOptions holds the list command's flag values.
type listOptions struct {
	processed bool
	pending   bool
	datasetID string
	search    string
	limit     int
	offset    int
}

// filters maps the flag values onto repository filters.
func (o listOptions) filters() database.Filters {
	f := database.Filters{
		DatasetID: o.datasetID,
		Search:    o.search,
		Limit:     o.limit,
		Offset:    o.offset,
	}

	switch {
	case o.processed:
		value := true
		f.Processed = &value
	case o.pending:
		value := false
		f.Processed = &value
	}

	return f
}

// newListCommand creates the list command.
func newListCommand(cfgFile *string) *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked dataset URLs",
		Long:  `List the dataset URLs tracked by the registry in a formatted table.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log, err := logger.New(&cfg.Logger)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}

			db, err := database.NewPostgresConnection(cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			repo := database.NewDatasetURLRepository(db)
			rows, total, err := repo.List(cmd.Context(), opts.filters())
			if err != nil {
				return fmt.Errorf("failed to list dataset URLs: %w", err)
			}

			if len(rows) == 0 {
				log.Info("no dataset URLs tracked")
				return nil
			}

			NewTableRenderer(log).RenderTable(rows, total)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.processed, "processed", false, "only processed URLs")
	cmd.Flags().BoolVar(&opts.pending, "pending", false, "only URLs not yet processed")
	cmd.Flags().StringVar(&opts.datasetID, "dataset-id", "", "filter by dataset identifier")
	cmd.Flags().StringVar(&opts.search, "search", "", "filter by URL substring")
	cmd.Flags().IntVar(&opts.limit, "limit", 50, "maximum rows to display")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "rows to skip")

	return cmd
}

// Command returns the urls command group.
func Command(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "urls",
		Short: "Inspect tracked dataset URLs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newListCommand(cfgFile))

	return cmd
}
