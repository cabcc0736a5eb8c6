package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"slippymap/internal/app"
	"slippymap/internal/config"
	"slippymap/internal/logging"
)

var (
	hf bool
	cf string
)

func init() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&cf, "c", "conf.toml", "set config `file`")
	flag.Usage = usage
}

func usage() {
	fmt.Fprintf(os.Stderr, `mapviewer: interactive slippy map
Usage: mapviewer [-h] [-c filename]

Controls:
  Mouse drag       : Pan (flick for inertia)
  Mouse wheel      : Zoom at cursor
  WASD / Arrows    : Pan
  Shift / + / -    : Zoom in / out
  Space            : Zoom out
  Q / E            : Rotate
  N                : Reset north
  B                : Next base layer
  [ / ]            : City mask radius
  Escape           : Exit

`)
	flag.PrintDefaults()
}

func main() {
	flag.Parse()
	if hf {
		flag.Usage()
		return
	}

	// SLIPPYMAP_* overrides may live in a .env file
	_ = godotenv.Load(".env")

	cfg, err := config.Load(cf)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("startup failed")
		os.Exit(1)
	}
	defer application.Cleanup()

	if err := application.Run(); err != nil {
		logger.WithError(err).Error("map viewer stopped")
	}
}
