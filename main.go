// BabyVPN Client - Wails Edition
// 主入口文件
package main

import (
	"embed"
	"log"
	"os"
	"path/filepath"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/windows"

	"babyvpn-wails/internal/models"
	"babyvpn-wails/internal/system"
)

//go:embed all:frontend/dist
var assets embed.FS

func main() {
	// 检查启动参数
	isAutoStart := false
	for _, arg := range os.Args[1:] {
		if arg == system.AutoStartFlag {
			isAutoStart = true
			break
		}
	}

	// 获取可执行文件目录
	exeDir, err := system.GetExeDir()
	if err != nil {
		log.Fatal("无法获取程序路径:", err)
	}

	app := NewApp(exeDir, isAutoStart)

	err = wails.Run(&options.App{
		Title:     models.AppTitle,
		Width:     960,
		Height:    720,
		MinWidth:  720,
		MinHeight: 540,

		AssetServer: &assetserver.Options{
			Assets: assets,
		},

		BackgroundColour: &options.RGBA{R: 255, G: 255, B: 255, A: 1},

		OnStartup:  app.startup,
		OnShutdown: app.shutdown,

		Bind: []interface{}{
			app,
		},

		Windows: &windows.Options{
			WebviewIsTransparent: false,
			WindowIsTranslucent:  false,
			WebviewUserDataPath:  filepath.Join(exeDir, "webview_data"),
			Theme:                windows.SystemDefault,
		},

		// 单实例：第二次启动时唤醒已有窗口
		SingleInstanceLock: &options.SingleInstanceLock{
			UniqueId: "babyvpn-client-single-instance",
			OnSecondInstanceLaunch: func(data options.SecondInstanceData) {
				app.ShowWindow()
			},
		},
	})

	if err != nil {
		log.Fatal("启动失败:", err)
	}
}
