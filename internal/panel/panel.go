// Package panel は操作者向けのデスクトップ画面を提供する
//
// ポート番号の入力、サービスの開始・停止・終了と、ローカルプレビューの表示を行う。
// プレビュー画像は preview.Sink として受け取る。
package panel

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"sync"

	"camcast/internal/config"
	"camcast/internal/server"
	"camcast/internal/service"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
)

// 画面の大きさ
const (
	windowWidth  = 800
	windowHeight = 720
)

// Controller は画面から操作するサービス
type Controller interface {
	Start(ctx context.Context, portText string) error
	Stop(ctx context.Context) error
	Quit(ctx context.Context) error
	Status() server.Status
}

// Panel は操作画面
type Panel struct {
	app    fyne.App
	window fyne.Window
	ctrl   Controller
	logger *slog.Logger

	portEntry    *widget.Entry
	startButton  *widget.Button
	stopButton   *widget.Button
	quitButton   *widget.Button
	statusLabel  *widget.Label
	previewImage *canvas.Image
	noFeedLabel  *widget.Label

	quitOnce sync.Once
}

// New は操作画面を作成する
func New(app fyne.App, ctrl Controller, cfg *config.Config, logger *slog.Logger) *Panel {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Panel{
		app:    app,
		window: app.NewWindow("camcast"),
		ctrl:   ctrl,
		logger: logger,
	}

	p.createWidgets(cfg)
	p.window.SetContent(p.createContent())
	p.window.Resize(fyne.NewSize(windowWidth, windowHeight))
	p.window.SetCloseIntercept(p.quit)
	p.refreshControls()

	return p
}

// createWidgets は画面の部品を作成する
func (p *Panel) createWidgets(cfg *config.Config) {
	p.portEntry = widget.NewEntry()
	p.portEntry.SetText(strconv.Itoa(cfg.Server.Port))

	p.startButton = widget.NewButton("開始", p.start)
	p.startButton.Importance = widget.HighImportance
	p.stopButton = widget.NewButton("停止", p.stop)
	p.quitButton = widget.NewButton("終了", p.quit)

	p.statusLabel = widget.NewLabel("停止中")

	p.previewImage = canvas.NewImageFromImage(nil)
	p.previewImage.FillMode = canvas.ImageFillContain
	p.previewImage.ScaleMode = canvas.ImageScaleFastest
	p.previewImage.SetMinSize(fyne.NewSize(float32(cfg.Preview.Width), float32(cfg.Preview.Width)*3/4))

	p.noFeedLabel = widget.NewLabel("カメラ映像なし")
	p.noFeedLabel.Alignment = fyne.TextAlignCenter
}

// createContent は画面のレイアウトを作成する
func (p *Panel) createContent() fyne.CanvasObject {
	controls := container.NewHBox(
		widget.NewLabel("ポート:"),
		container.NewGridWrap(fyne.NewSize(100, p.portEntry.MinSize().Height), p.portEntry),
		p.startButton,
		p.stopButton,
		p.quitButton,
	)

	preview := container.NewStack(p.previewImage, container.NewCenter(p.noFeedLabel))

	return container.NewBorder(
		container.NewVBox(controls, widget.NewSeparator()),
		p.statusLabel,
		nil, nil,
		preview,
	)
}

// ShowAndRun は画面を表示してイベントループを実行する
func (p *Panel) ShowAndRun() {
	p.window.ShowAndRun()
}

// Publish はプレビュー画像を表示する
func (p *Panel) Publish(img image.Image) {
	p.previewImage.Image = img
	p.previewImage.Refresh()
	p.noFeedLabel.Hide()
}

// Clear はプレビュー表示を消す
func (p *Panel) Clear() {
	p.previewImage.Image = nil
	p.previewImage.Refresh()
	p.noFeedLabel.Show()
}

// start は入力されたポートでサービスを開始する
func (p *Panel) start() {
	port := p.portEntry.Text
	if err := p.ctrl.Start(context.Background(), port); err != nil {
		p.refreshControls()
		p.showError(startErrorMessage(port, err), err)
		return
	}

	p.logger.Info("操作画面からサービスを開始しました", "port", port)
	p.refreshControls()
}

// stop はサービスを停止する
func (p *Panel) stop() {
	err := p.ctrl.Stop(context.Background())
	p.refreshControls()
	if err != nil {
		p.showError("サービスの停止中にエラーが発生しました", err)
	}
}

// quit はサービスを停止してアプリケーションを終了する
func (p *Panel) quit() {
	p.quitOnce.Do(func() {
		if err := p.ctrl.Quit(context.Background()); err != nil {
			p.logger.Error("終了処理でエラーが発生しました", "error", err)
		}
		p.window.Close()
		p.app.Quit()
	})
}

// showError はエラーをダイアログとステータス欄に表示する
func (p *Panel) showError(message string, err error) {
	p.logger.Warn(message, "error", err)
	p.statusLabel.SetText(message)
	dialog.ShowError(errors.New(message), p.window)
}

// refreshControls はサービスの状態に合わせてボタンとステータス表示を更新する
func (p *Panel) refreshControls() {
	status := p.ctrl.Status()
	running := status.State == string(service.StateRunning)

	if running {
		p.startButton.Disable()
		p.stopButton.Enable()
		p.portEntry.Disable()
		p.statusLabel.SetText(statusText(status))
		return
	}

	p.startButton.Enable()
	p.stopButton.Disable()
	p.portEntry.Enable()
	p.statusLabel.SetText("停止中")
}

// statusText は起動中のステータス表示を返す
func statusText(status server.Status) string {
	if !status.Streaming {
		return fmt.Sprintf("ポート %d で起動中（配信停止中）", status.Port)
	}
	return fmt.Sprintf("ポート %d で配信中: http://<このPCのアドレス>:%d/", status.Port, status.Port)
}

// startErrorMessage は起動失敗の理由を操作者向けの文言にする
func startErrorMessage(port string, err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidPort):
		return fmt.Sprintf("無効なポート番号です: %q", port)
	case errors.Is(err, service.ErrPortInUse):
		return fmt.Sprintf("ポート %s は既に使用されています", port)
	case errors.Is(err, service.ErrAlreadyRunning):
		return "サービスは既に起動しています"
	default:
		return fmt.Sprintf("サービスを開始できません: %v", err)
	}
}
