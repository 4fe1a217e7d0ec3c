package main

import (
	"embed"
	"os"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/logger"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"trainz-basemap/internal/logging"
)

//go:embed all:frontend/dist
var assets embed.FS

// isDevMode detects if running under `wails dev`
func isDevMode() bool {
	return os.Getenv("WAILS_DEV_SERVER") != "" || os.Getenv("FRONTEND_DEVSERVER_URL") != ""
}

func main() {
	app := NewApp()
	app.devMode = os.Getenv("DEV_MODE") == "1" || isDevMode()

	logLevel := logger.INFO
	if app.devMode {
		logLevel = logger.DEBUG
		logging.SetLogLevel("debug")
	}

	err := wails.Run(&options.App{
		Title:     "Trainz Basemap",
		Width:     1200,
		Height:    800,
		MinWidth:  800,
		MinHeight: 600,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		Logger:           logging.WailsLogger{},
		LogLevel:         logLevel,
		OnStartup:        app.startup,
		OnShutdown:       app.shutdown,
		Bind: []interface{}{
			app,
		},
	})

	if err != nil {
		logging.Error("Application failed", "error", err)
		os.Exit(1)
	}
}
