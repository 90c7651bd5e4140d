package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/esimov/facemerge"
	"github.com/esimov/facemerge/detect"
	"github.com/esimov/facemerge/landmark"
	"github.com/esimov/facemerge/store"
	"github.com/esimov/facemerge/utils"
	"github.com/spf13/cobra"
)

var mergeOpts struct {
	output string
	db     string
}

var mergeCmd = &cobra.Command{
	Use:   "merge <source> <destination>",
	Short: "Paste the face of the source image onto the destination image",
	Long: `Paste the face of the source image onto a copy of the destination image.

Both images may be local files or URLs. The landmarks are read from the result
store when --db names a database holding a scan of the image, otherwise the
configured detector is called.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("db") {
			cfg.Store.Path = mergeOpts.db
		}
		return runMerge(cmd.Context(), args[0], args[1], mergeOpts.output)
	},
}

func init() {
	mergeCmd.Flags().StringVarP(&mergeOpts.output, "out", "o", "", "Destination file (jpg, png, bmp or gif)")
	mergeCmd.Flags().StringVar(&mergeOpts.db, "db", "", "SQLite database holding previous detections")
	mergeCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(mergeCmd)
}

// faceSource resolves the landmarks of an image, preferring stored detections.
type faceSource struct {
	db  *store.Store
	det detect.Detector
}

func (fs *faceSource) load(ctx context.Context, path string) (image.Image, landmark.Set, error) {
	if fs.db != nil {
		faces, err := fs.db.Faces(ctx, path)
		switch {
		case err == nil && len(faces) > 0:
			img, err := facemerge.DecodeFile(path)
			if err != nil {
				return nil, landmark.Set{}, err
			}
			return img, faces[0].Landmarks, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, landmark.Set{}, err
		}
	}

	if fs.det == nil {
		if err := cfg.Validate(); err != nil {
			return nil, landmark.Set{}, err
		}
		det, err := newDetector(cfg)
		if err != nil {
			return nil, landmark.Set{}, err
		}
		fs.det = det
	}
	return facemerge.DetectFile(ctx, fs.det, path)
}

func runMerge(ctx context.Context, src, dst, out string) error {
	spinnerText := fmt.Sprintf("%s %s",
		utils.DecorateText("⚡ FACEMERGE", utils.StatusMessage),
		utils.DecorateText("is merging the faces...", utils.DefaultMessage))
	spinner := utils.NewSpinner(spinnerText, 200*time.Millisecond, true)

	srcPath, cleanup, err := localPath(ctx, src)
	if err != nil {
		return err
	}
	defer cleanup()
	dstPath, cleanup, err := localPath(ctx, dst)
	if err != nil {
		return err
	}
	defer cleanup()

	db, err := openStore()
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	now := time.Now()
	spinner.Start()
	err = merge(ctx, &faceSource{db: db}, srcPath, dstPath, out)
	if err != nil {
		spinner.StopMsg = utils.DecorateText("✘ Failed to merge the faces\n", utils.ErrorMessage)
		spinner.Stop()
		return err
	}
	spinner.StopMsg = fmt.Sprintf("%s %s\n",
		utils.DecorateText("✔ Faces merged into", utils.SuccessMessage),
		utils.DecorateText(out, utils.DefaultMessage))
	spinner.Stop()

	fmt.Fprintf(os.Stderr, "\nExecution time: %s\n", utils.DecorateText(utils.FormatTime(time.Since(now)), utils.SuccessMessage))
	return nil
}

func merge(ctx context.Context, fs *faceSource, srcPath, dstPath, out string) error {
	srcImg, srcLm, err := fs.load(ctx, srcPath)
	if err != nil {
		return fmt.Errorf("source image: %w", err)
	}
	dstImg, dstLm, err := fs.load(ctx, dstPath)
	if err != nil {
		return fmt.Errorf("destination image: %w", err)
	}
	res, err := facemerge.MergeFaces(srcImg, srcLm, dstImg, dstLm)
	if err != nil {
		return err
	}
	return facemerge.EncodeFile(out, res)
}

// localPath downloads URLs into a temporary file. Local paths are returned unchanged.
func localPath(ctx context.Context, path string) (string, func(), error) {
	if !utils.IsValidUrl(path) {
		return path, func() {}, nil
	}
	f, err := utils.DownloadImage(ctx, path)
	if err != nil {
		return "", nil, err
	}
	f.Close()
	return f.Name(), func() { os.Remove(f.Name()) }, nil
}
