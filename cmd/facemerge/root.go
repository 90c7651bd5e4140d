package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/esimov/facemerge/config"
	"github.com/esimov/facemerge/detect"
	"github.com/esimov/facemerge/landmark"
	"github.com/esimov/facemerge/store"
	"github.com/esimov/facemerge/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const HelpBanner = `
┌─┐┌─┐┌─┐┌─┐┌┬┐┌─┐┬─┐┌─┐┌─┐
├┤ ├─┤│  ├┤ │││├┤ ├┬┘│ ┬├┤
└  ┴ ┴└─┘└─┘┴ ┴└─┘┴└─└─┘└─┘

Landmark driven face compositing.
    Version: %s

`

// Version indicates the current build version.
var Version = "dev"

var (
	cfgPath string
	envPath string
	backend string
	verbose bool

	// cfg is loaded before any sub-command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "facemerge",
	Short:         "Detect faces in bulk and paste one face onto another picture",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stderr.Fd())) {
			utils.SetColor(false)
		}
		if err := config.LoadDotEnv(envPath); err != nil {
			return err
		}
		c, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if backend != "" {
			c.Detector.Backend = backend
		}
		cfg = c
		return nil
	},
}

// Execute runs the command line with a context cancelled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Fatal(utils.DecorateText(err.Error(), utils.ErrorMessage))
	}
}

func init() {
	rootCmd.SetHelpTemplate(fmt.Sprintf(HelpBanner, Version) + rootCmd.HelpTemplate())
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", "", ".env file exporting FACEMERGE_* variables (default: ./.env if present)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Face detector: remote, pigo or mock")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log retries and cancellations")
}

// logger returns the diagnostic logger handed to the library packages.
func logger() *log.Logger {
	if verbose {
		return log.New(os.Stderr, "facemerge: ", 0)
	}
	return log.New(io.Discard, "", 0)
}

// newDetector builds the backend selected by the configuration.
func newDetector(c *config.Config) (detect.Detector, error) {
	switch c.Detector.Backend {
	case config.BackendRemote:
		return detect.NewRemote(c.RemoteDetectorConfig())
	case config.BackendPigo:
		pc, err := c.PigoDetectorConfig()
		if err != nil {
			return nil, err
		}
		return detect.NewPigo(pc)
	case config.BackendMock:
		m := detect.NewMock()
		m.SetFaceFunc(syntheticFaces)
		return m, nil
	}
	return nil, fmt.Errorf("unknown detector backend %q", c.Detector.Backend)
}

// syntheticFaces places a single frontal face in the middle of any decodable image.
// It lets the mock backend drive the whole pipeline without a detection service.
func syntheticFaces(data []byte) []detect.Face {
	ic, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || ic.Width < 40 || ic.Height < 40 {
		return nil
	}
	w, h := ic.Width, ic.Height
	cx, cy := w/2, h/2
	dx, dy := w/20, h/12

	lm := landmark.NewSet(map[landmark.Name]landmark.Point{
		landmark.EyebrowLeftOuter:    {X: w * 3 / 10, Y: h * 3 / 10},
		landmark.EyebrowLeftInner:    {X: w * 9 / 20, Y: h * 3 / 10},
		landmark.EyebrowRightInner:   {X: w * 11 / 20, Y: h * 3 / 10},
		landmark.EyebrowRightOuter:   {X: w * 7 / 10, Y: h * 3 / 10},
		landmark.MouthLeft:           {X: w * 4 / 10, Y: h * 6 / 10},
		landmark.MouthRight:          {X: w * 6 / 10, Y: h * 6 / 10},
		landmark.UnderLipBottom:      {X: cx, Y: h * 13 / 20},
		landmark.NoseRootLeft:        {X: cx - dx/2, Y: cy - dy},
		landmark.NoseRootRight:       {X: cx + dx/2, Y: cy - dy},
		landmark.NoseLeftAlarOutTip:  {X: cx - dx, Y: cy},
		landmark.NoseRightAlarOutTip: {X: cx + dx, Y: cy},
		landmark.NoseTip:             {X: cx, Y: cy + 2*dy},
	})
	return []detect.Face{{
		ID:        uuid.NewString(),
		Rect:      image.Rect(w*3/10, h/4, w*7/10, h*3/4),
		Landmarks: lm,
	}}
}

// openStore opens the result database configured by --db or FACEMERGE_DB.
func openStore() (*store.Store, error) {
	if cfg.Store.Path == "" {
		return nil, nil
	}
	s, err := store.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open the result store: %w", err)
	}
	return s, nil
}
