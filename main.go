package main

import (
	"context"
	"embed"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/logger"
	"github.com/wailsapp/wails/v2/pkg/menu"
	"github.com/wailsapp/wails/v2/pkg/menu/keys"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/linux"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
	"github.com/wailsapp/wails/v2/pkg/options/windows"
	wruntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"github.com/d3lta02/zklabubu-desktop/bindings"
	"github.com/d3lta02/zklabubu-desktop/internal/config"
	zotel "github.com/d3lta02/zklabubu-desktop/internal/otel"
)

//go:embed all:frontend/dist
var assets embed.FS

const (
	embeddedAssetDir = "frontend/dist/assets"
	repoURL          = "https://github.com/d3lta02/zklabubu-desktop"
	succinctURL      = "https://succinct.xyz"
)

var (
	appCtx   context.Context
	appCtxMu sync.RWMutex
)

func buildWindowsOptions() *windows.Options {
	return &windows.Options{
		Theme:                windows.Dark,
		WebviewIsTransparent: false,
		WindowIsTranslucent:  false,
		DisablePinchZoom:     true,
		IsZoomControlEnabled: false,
		ZoomFactor:           1.0,
		WindowClassName:      "ZkLabubuWindow",
	}
}

func buildMacOptions() *mac.Options {
	iconData, err := assets.ReadFile(embeddedAssetDir + "/images/labubu_pink.png")
	var aboutIcon []byte
	if err == nil {
		aboutIcon = iconData
	}

	return &mac.Options{
		TitleBar: &mac.TitleBar{
			TitlebarAppearsTransparent: true,
			HideTitle:                  false,
			HideTitleBar:               false,
			FullSizeContent:            false,
			UseToolbar:                 false,
			HideToolbarSeparator:       true,
		},
		About: &mac.AboutInfo{
			Title: "zkLabubu",
			Message: "Catch eggs, dodge rocks, then prove your score.\n\n" +
				"Scores are checked by an SP1 program on the proving backend.",
			Icon: aboutIcon,
		},
	}
}

func buildLinuxOptions() *linux.Options {
	iconData, err := assets.ReadFile(embeddedAssetDir + "/images/labubu_pink.png")
	var windowIcon []byte
	if err == nil {
		windowIcon = iconData
	}

	return &linux.Options{
		Icon:                windowIcon,
		WindowIsTranslucent: false,
		WebviewGpuPolicy:    linux.WebviewGpuPolicyAlways,
		ProgramName:         "zklabubu",
	}
}

func main() {
	log.Printf("Starting zkLabubu (Go %s)...", runtime.Version())

	var cfg config.App
	if err := config.ParseConfig(&cfg); err != nil {
		log.Fatalf("config: %v", err)
	}

	shutdownTracing, err := zotel.Setup(context.Background(), "zklabubu-desktop")
	if err != nil {
		log.Printf("tracing disabled: %v", err)
	}

	opts := bindings.Options{Config: cfg}
	if _, err := fs.Stat(assets, embeddedAssetDir); err == nil && os.Getenv("ZKLABUBU_ASSET_DIR") == "" {
		sub, err := fs.Sub(assets, embeddedAssetDir)
		if err != nil {
			log.Fatalf("embedded assets: %v", err)
		}
		opts.Assets = sub
	}
	app, err := bindings.New(opts)
	if err != nil {
		log.Fatalf("app init failed: %v", err)
	}

	startup := func(ctx context.Context) {
		setAppContext(ctx)
		app.Startup(ctx)
	}

	shutdown := func(ctx context.Context) {
		app.Shutdown(ctx)
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
		setAppContext(nil)
		log.Println("Application shutdown complete")
	}

	if err := wails.Run(&options.App{
		Title:            "zkLabubu",
		Width:            960,
		Height:           720,
		MinWidth:         800,
		MinHeight:        600,
		WindowStartState: options.Normal,
		BackgroundColour: &options.RGBA{R: 18, G: 14, B: 32, A: 255},

		AssetServer: &assetserver.Options{
			Assets: assets,
		},

		OnStartup:  startup,
		OnShutdown: shutdown,

		Menu: buildAppMenu(app, cfg),

		Bind: []interface{}{app},

		LogLevel:           logger.INFO,
		LogLevelProduction: logger.ERROR,

		EnableDefaultContextMenu: false,

		ErrorFormatter: func(err error) any {
			if err == nil {
				return nil
			}
			return err.Error()
		},

		SingleInstanceLock: &options.SingleInstanceLock{
			UniqueId: "5b0d7c1e-zklabubu-desktop",
			OnSecondInstanceLaunch: func(data options.SecondInstanceData) {
				log.Printf("Second instance launch prevented. Args: %v", data.Args)
			},
		},

		DragAndDrop: &options.DragAndDrop{
			EnableFileDrop:     false,
			DisableWebViewDrop: true,
		},

		Windows: buildWindowsOptions(),
		Mac:     buildMacOptions(),
		Linux:   buildLinuxOptions(),
	}); err != nil {
		log.Fatalf("Error running Wails app: %v", err)
	}
}

func buildAppMenu(app *bindings.App, cfg config.App) *menu.Menu {
	rootMenu := menu.NewMenu()

	if runtime.GOOS == "darwin" {
		if appMenu := menu.AppMenu(); appMenu != nil {
			rootMenu.Append(appMenu)
		}
	}

	gameMenu := menu.NewMenu()
	gameMenu.AddText("Pause / Resume", keys.Key("p"), func(_ *menu.CallbackData) {
		if err := app.TogglePause(); err != nil {
			log.Printf("toggle pause: %v", err)
		}
	})
	gameMenu.AddText("Main Menu", keys.CmdOrCtrl("m"), func(_ *menu.CallbackData) {
		app.GoHome()
	})
	gameMenu.AddSeparator()
	gameMenu.AddText("Open Data Directory", keys.CmdOrCtrl("o"), func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			openPathInExplorer(ctx, cfg.ResolveDataDir())
		})
	})
	gameMenu.AddText("Quit", keys.CmdOrCtrl("q"), func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			wruntime.Quit(ctx)
		})
	})
	rootMenu.Append(menu.SubMenu("Game", gameMenu))

	viewMenu := menu.NewMenu()
	viewMenu.AddText("Reload Frontend", keys.CmdOrCtrl("r"), func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			wruntime.WindowReloadApp(ctx)
		})
	})
	viewMenu.AddText("Toggle Fullscreen", keys.Combo("f", keys.CmdOrCtrlKey, keys.ShiftKey), func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			toggleFullscreen(ctx)
		})
	})
	rootMenu.Append(menu.SubMenu("View", viewMenu))

	helpMenu := menu.NewMenu()
	helpMenu.AddText("Project Repository", nil, func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			wruntime.BrowserOpenURL(ctx, repoURL)
		})
	})
	helpMenu.AddText("About SP1", nil, func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			wruntime.BrowserOpenURL(ctx, succinctURL)
		})
	})
	rootMenu.Append(menu.SubMenu("Help", helpMenu))

	return rootMenu
}

func openPathInExplorer(ctx context.Context, path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		log.Printf("resolve path %s failed: %v", path, err)
		abs = path
	}
	wruntime.BrowserOpenURL(ctx, fileURI(abs))
}

func fileURI(path string) string {
	clean := filepath.ToSlash(path)
	if runtime.GOOS == "windows" && len(clean) > 0 && clean[0] != '/' {
		clean = "/" + clean
	}
	u := url.URL{Scheme: "file", Path: clean}
	return u.String()
}

func toggleFullscreen(ctx context.Context) {
	if wruntime.WindowIsFullscreen(ctx) {
		wruntime.WindowUnfullscreen(ctx)
		return
	}
	wruntime.WindowFullscreen(ctx)
}

func setAppContext(ctx context.Context) {
	appCtxMu.Lock()
	defer appCtxMu.Unlock()
	appCtx = ctx
}

func withAppContext(action func(context.Context)) {
	appCtxMu.RLock()
	ctx := appCtx
	appCtxMu.RUnlock()
	if ctx == nil {
		log.Println("application context not initialised; ignoring menu action")
		return
	}
	action(ctx)
}
