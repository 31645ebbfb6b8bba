package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/pcbview/boardworker/internal/pipeline"
	"github.com/pcbview/boardworker/internal/ui"
	"github.com/pcbview/boardworker/internal/worker"
)

var importCmd = &cobra.Command{
	Use:     "import [files...]",
	GroupID: "boards",
	Short:   "Import a design from files or a URL",
	Long: `Import a board design into the local store.

Pass Gerber/Excellon layer files, a zip archive, or a directory of layer
files. With --url the design is downloaded instead; importing the same URL
again refreshes the existing board rather than creating a second one.

Examples:
  boardworker import arduino.zip
  boardworker import gerbers/
  boardworker import --url https://example.com/board.zip --user u123`,
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		userID, _ := cmd.Flags().GetString("user")

		if (url == "") == (len(args) == 0) {
			return fmt.Errorf("pass either files or --url")
		}

		var (
			reqType = worker.CreateBoard
			payload any
		)
		if url != "" {
			reqType = worker.CreateBoardFromURL
			payload = url
		} else {
			files, err := readInputs(args)
			if err != nil {
				return err
			}
			payload = files
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		s, err := startSession(ctx)
		if err != nil {
			return err
		}
		defer s.close()

		if err := s.credentials(ctx, userID); err != nil {
			return err
		}

		start := time.Now()
		n, err := s.do(ctx, reqType, payload, worker.BoardUpdated)
		if err != nil {
			return err
		}
		b := n.Payload.(worker.UpdatedPayload).Board

		fmt.Printf("%s Imported %s in %v\n", ui.RenderPass("✓"), ui.RenderBold(b.Name), time.Since(start).Round(time.Millisecond))
		fmt.Printf("   ID:        %s\n", b.ID)
		if b.SourceURL != "" {
			fmt.Printf("   Source:    %s\n", b.SourceURL)
		}
		fmt.Printf("   Thumbnail: %s\n", ui.FormatBytes(int64(len(b.Thumbnail))))
		return nil
	},
}

// readInputs loads files; a directory contributes its regular files.
func readInputs(paths []string) ([]pipeline.File, error) {
	var files []pipeline.File
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, err
			}
			files = append(files, pipeline.File{Name: filepath.Base(p), Data: data})
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(p, e.Name()))
			if err != nil {
				return nil, err
			}
			files = append(files, pipeline.File{Name: e.Name(), Data: data})
		}
	}
	return files, nil
}

func init() {
	importCmd.Flags().String("url", "", "Download the design from this URL")
	importCmd.Flags().String("user", "", "User id for uploading the board to the sync service")

	rootCmd.AddCommand(importCmd)
}
