package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/menta2k/paddy-monitor/internal/config"
	"github.com/menta2k/paddy-monitor/internal/logging"
	"github.com/menta2k/paddy-monitor/internal/models"
	"github.com/menta2k/paddy-monitor/internal/orchestrator"
	"github.com/menta2k/paddy-monitor/internal/utils"
	"github.com/menta2k/paddy-monitor/pkg/analyzer"
	"github.com/menta2k/paddy-monitor/pkg/assessment"
	"github.com/menta2k/paddy-monitor/pkg/processing"
)

var (
	analyzeDrone      string
	analyzeCloseup    string
	analyzeHorizontal string
	analyzeVertical   string
	analyzeOverlayDir string
	analyzeNoVision   bool

	checkImage string
	configOut  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze four local photos and print the merged result as JSON",
	Long: `Runs the same pipeline as the queue worker on local files without touching
the database. With --overlay-dir the vertical view is saved with the
calibration board and detected plants outlined.`,
	RunE: runAnalyze,
}

var visionCheckCmd = &cobra.Command{
	Use:   "vision-check",
	Short: "Ask the vision model to describe one image",
	RunE:  runVisionCheck,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration (YAML, or JSON for a .json path)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Default().SaveToFile(configOut); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configOut)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd, visionCheckCmd, configCmd)
	configCmd.AddCommand(configInitCmd)

	f := analyzeCmd.Flags()
	f.StringVar(&analyzeDrone, "drone", "", "top-down drone photo")
	f.StringVar(&analyzeCloseup, "closeup", "", "0.5 m close-up side photo")
	f.StringVar(&analyzeHorizontal, "horizontal", "", "3 m side photo along the rows")
	f.StringVar(&analyzeVertical, "vertical", "", "3 m side photo across the rows, with the reference board")
	f.StringVar(&analyzeOverlayDir, "overlay-dir", "", "save a debug overlay of the vertical view here")
	f.BoolVar(&analyzeNoVision, "no-vision", false, "skip the vision model")
	for _, name := range []string{"drone", "closeup", "horizontal", "vertical"} {
		_ = analyzeCmd.MarkFlagRequired(name)
	}

	visionCheckCmd.Flags().StringVar(&checkImage, "image", "", "image to describe")
	_ = visionCheckCmd.MarkFlagRequired("image")

	configInitCmd.Flags().StringVarP(&configOut, "out", "o", config.GetConfigPath(), "output path")
}

// visionOff stands in for the model when --no-vision is set
type visionOff struct{}

func (visionOff) Assess(context.Context, assessment.PhotoSet) assessment.Assessment {
	return assessment.Degraded(errors.New("vision model disabled"))
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	log.SetOutput(cmd.ErrOrStderr())

	a := analyzer.NewWithConfig(cfg.AnalyzerSettings())
	var vision orchestrator.Assessor = visionOff{}
	if !analyzeNoVision {
		assessor, err := newAssessor(cfg)
		if err != nil {
			return err
		}
		vision = assessor
	}

	ctx, stop := signalContext()
	defer stop()

	orch := orchestrator.New(nil, a, vision, orchestrator.Options{Logger: log})
	result, err := orch.Preview(ctx, &models.PhotoGroup{
		DroneImagePath:   analyzeDrone,
		Closeup05mPath:   analyzeCloseup,
		Horizontal3mPath: analyzeHorizontal,
		Vertical3mPath:   analyzeVertical,
	})
	if err != nil {
		return err
	}

	if analyzeOverlayDir != "" {
		path, err := saveOverlay(a, analyzeVertical, analyzeOverlayDir)
		if err != nil {
			return fmt.Errorf("failed to save overlay: %w", err)
		}
		log.Info("overlay saved", logging.Fields{"path": path})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func saveOverlay(a *analyzer.ImageAnalyzer, path, dir string) (string, error) {
	img, err := a.LoadImage(path)
	if err != nil {
		return "", err
	}
	// a missing board still leaves the plant boxes worth drawing
	cal, _ := a.Calibrate(img)

	if err := utils.EnsureDir(dir); err != nil {
		return "", err
	}
	proc := processing.NewProcessor()
	overlay := proc.DebugOverlay(img, cal.Board, a.PlantBoxes(img))
	out := utils.GenerateOutputFilename(path, dir, "", "_overlay", "png")
	if err := proc.SaveImage(overlay, out, "png", 100, true); err != nil {
		return "", err
	}
	return out, nil
}

func runVisionCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	assessor, err := newAssessor(cfg)
	if err != nil {
		return err
	}
	img, err := analyzer.NewWithConfig(cfg.AnalyzerSettings()).LoadImage(checkImage)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	reply, err := assessor.Describe(ctx, img)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s): %s\n", cfg.Vision.Model, cfg.Vision.Provider, reply)
	return nil
}

