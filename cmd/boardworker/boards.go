package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pcbview/boardworker/internal/board"
	"github.com/pcbview/boardworker/internal/store"
	"github.com/pcbview/boardworker/internal/ui"
	"github.com/pcbview/boardworker/internal/worker"
)

var boardsCmd = &cobra.Command{
	Use:     "boards",
	GroupID: "boards",
	Short:   "Inspect and manage stored boards",
}

// boardRow is the printable form of a board.
type boardRow struct {
	ID        string            `json:"id" yaml:"id"`
	Name      string            `json:"name" yaml:"name"`
	SourceURL string            `json:"sourceUrl,omitempty" yaml:"source_url,omitempty"`
	Layers    []board.LayerType `json:"layers,omitempty" yaml:"layers,omitempty"`
	Options   board.Options     `json:"options" yaml:"options"`
	CreatedAt time.Time         `json:"createdAt" yaml:"created_at"`
	UpdatedAt time.Time         `json:"updatedAt" yaml:"updated_at"`
}

func rowOf(b board.Board) boardRow {
	r := boardRow{
		ID:        b.ID,
		Name:      b.Name,
		SourceURL: b.SourceURL,
		Options:   b.Options,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
	for _, l := range b.Layers {
		r.Layers = append(r.Layers, l.Type)
	}
	return r
}

func openStore(ctx context.Context) (*store.Store, error) {
	if _, err := os.Stat(cfg.Store.Path); os.IsNotExist(err) {
		return nil, fmt.Errorf("no board store at %s (import a board first)", cfg.Store.Path)
	}
	return store.OpenContext(ctx, cfg.Store.Path)
}

func printRows(format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

var boardsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored boards",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		boards, err := st.GetAll(ctx)
		if err != nil {
			return err
		}

		if format != "table" {
			rows := make([]boardRow, len(boards))
			for i, b := range boards {
				rows[i] = rowOf(b)
			}
			return printRows(format, rows)
		}

		if len(boards) == 0 {
			fmt.Printf("\n%s No boards stored\n\n", ui.RenderWarn("⚠"))
			return nil
		}

		rows := make([][]string, len(boards))
		for i, b := range boards {
			source := b.SourceURL
			if source == "" {
				source = ui.RenderMuted("local")
			}
			rows[i] = []string{b.ID, b.Name, fmt.Sprint(len(b.Layers)), b.UpdatedAt.Local().Format("2006-01-02 15:04"), source}
		}
		fmt.Print(ui.Table([]string{"ID", "NAME", "LAYERS", "UPDATED", "SOURCE"}, rows))
		return nil
	},
}

var boardsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a stored board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		b, err := st.GetByID(ctx, args[0])
		if err != nil {
			return err
		}

		if format != "table" {
			return printRows(format, rowOf(b))
		}

		fmt.Printf("\n%s %s\n\n", ui.RenderAccent("▣"), ui.RenderBold(b.Name))
		fmt.Printf("ID:       %s\n", b.ID)
		if b.SourceURL != "" {
			fmt.Printf("Source:   %s\n", b.SourceURL)
		}
		fmt.Printf("Created:  %s\n", b.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Updated:  %s\n", b.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Outline:  %v\n", b.Options.UseOutline)
		fmt.Printf("Thumb:    %s\n\n", ui.FormatBytes(int64(len(b.Thumbnail))))

		rows := make([][]string, len(b.Layers))
		for i, l := range b.Layers {
			rows[i] = []string{l.Filename, string(l.Side), string(l.Type), ui.FormatBytes(int64(len(l.Source)))}
		}
		fmt.Print(ui.Table([]string{"FILE", "SIDE", "TYPE", "SIZE"}, rows))
		fmt.Println()
		return nil
	},
}

var boardsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a board, or every board with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		if all == (len(args) == 1) {
			return fmt.Errorf("pass a board id or --all")
		}

		s, err := startSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		if all {
			if _, err := s.do(cmd.Context(), worker.DeleteAllBoards, nil, worker.AllBoardsDeleted); err != nil {
				return err
			}
			fmt.Printf("%s Deleted all boards\n", ui.RenderPass("✓"))
			return nil
		}

		if _, err := s.do(cmd.Context(), worker.DeleteBoard, args[0], worker.BoardDeleted); err != nil {
			return err
		}
		fmt.Printf("%s Deleted board %s\n", ui.RenderPass("✓"), args[0])
		return nil
	},
}

var boardsPackageCmd = &cobra.Command{
	Use:   "package <id>",
	Short: "Write a board's archive to a zip file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("output")

		s, err := startSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()

		n, err := s.do(cmd.Context(), worker.GetBoardPackage, args[0], worker.BoardPackaged)
		if err != nil {
			return err
		}
		p := n.Payload.(worker.PackagedPayload)

		if out == "" {
			out = p.Name + ".zip"
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(out, p.Archive, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}

		fmt.Printf("%s Packaged %s (%s) to %s\n", ui.RenderPass("✓"), ui.RenderBold(p.Name), ui.FormatBytes(int64(len(p.Archive))), out)
		return nil
	},
}

var boardsExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Back up every stored board to a JSONL file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.ExportFile(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s Exported %d boards to %s\n", ui.RenderPass("✓"), n, args[0])
		return nil
	},
}

var boardsRestoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Restore boards from a JSONL backup",
	Long: `Restore boards from a backup written by "boards export".

Boards whose id is already stored are skipped unless --overwrite is set.
Stop any running "serve" process first; it does not see restored boards
until it restarts.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open backup: %w", err)
		}
		defer f.Close()

		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return err
		}
		st, err := store.OpenContext(ctx, cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()

		result, err := st.Restore(ctx, f, store.RestoreOptions{DryRun: dryRun, Overwrite: overwrite})
		if err != nil {
			return err
		}

		verb := "Restored"
		if dryRun {
			verb = "Would restore"
		}
		fmt.Printf("%s %s %d boards", ui.RenderPass("✓"), verb, result.Restored)
		if result.Skipped > 0 {
			fmt.Printf(", skipped %d existing", result.Skipped)
		}
		fmt.Println()
		for _, msg := range result.Errors {
			fmt.Printf("  %s %s\n", ui.RenderFail("✗"), msg)
		}
		if len(result.Errors) > 0 {
			return fmt.Errorf("%d boards could not be restored", len(result.Errors))
		}
		return nil
	},
}

func init() {
	boardsListCmd.Flags().StringP("format", "f", "table", "Output format (table, json, yaml)")
	boardsShowCmd.Flags().StringP("format", "f", "table", "Output format (table, json, yaml)")
	boardsDeleteCmd.Flags().Bool("all", false, "Delete every stored board")
	boardsPackageCmd.Flags().StringP("output", "o", "", "Output file (default: <name>.zip)")
	boardsRestoreCmd.Flags().Bool("dry-run", false, "Validate the backup without writing")
	boardsRestoreCmd.Flags().Bool("overwrite", false, "Replace boards that already exist")

	boardsCmd.AddCommand(boardsListCmd, boardsShowCmd, boardsDeleteCmd, boardsPackageCmd, boardsExportCmd, boardsRestoreCmd)
	rootCmd.AddCommand(boardsCmd)
}
