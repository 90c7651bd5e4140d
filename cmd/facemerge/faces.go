package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/esimov/facemerge/detect"
	"github.com/esimov/facemerge/store"
	"github.com/spf13/cobra"
)

var facesDB string

var facesCmd = &cobra.Command{
	Use:   "faces [image]",
	Short: "List the stored detections",
	Long: `Without argument, list every scanned image with its status and face count.
With an image path, list the faces detected in that image.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("db") {
			cfg.Store.Path = facesDB
		}
		if cfg.Store.Path == "" {
			return errors.New("no result store configured, use --db or FACEMERGE_DB")
		}
		db, err := openStore()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		if len(args) == 1 {
			faces, err := db.Faces(ctx, args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			printFaces(os.Stdout, faces)
			return nil
		}
		images, err := db.Images(ctx)
		if err != nil {
			return err
		}
		printImages(os.Stdout, images)
		return nil
	},
}

func init() {
	facesCmd.Flags().StringVar(&facesDB, "db", "", "SQLite database holding the detections")
	rootCmd.AddCommand(facesCmd)
}

func printImages(w io.Writer, images []store.Image) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tSTATUS\tFACES\tSCANNED\tERROR")
	for _, img := range images {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			img.Path, img.Status, img.Faces, img.ScannedAt.Format(time.DateTime), img.Error)
	}
	tw.Flush()
}

func printFaces(w io.Writer, faces []detect.Face) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECT\tLANDMARKS")
	for _, f := range faces {
		fmt.Fprintf(tw, "%s\t%v\t%d\n", f.ID, f.Rect, f.Landmarks.Len())
	}
	tw.Flush()
}
