package utility

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"golang.org/x/time/rate"

	"go-protonet/protonet"
)

// DashboardConfig is shown in the hyperparameter panel.
type DashboardConfig struct {
	Task         protonet.Task
	LearningRate float64
	Epochs       int
	Episodes     int
	Device       string

	// RefreshInterval bounds how often episode updates redraw the terminal.
	// Zero means 100ms.
	RefreshInterval time.Duration
}

// TrainingDashboard is a terminal UI for monitoring episodic training.
type TrainingDashboard struct {
	grid *ui.Grid

	lossPlot     *widgets.Plot
	accuracyPlot *widgets.Plot

	progressGauge *widgets.Gauge
	progressList  *widgets.List
	systemList    *widgets.List
	logParagraph  *widgets.Paragraph

	totalEpochs      int
	fullLossData     []float64
	fullAccuracyData []float64
	renderMutex      sync.Mutex
	renderLimiter    *rate.Limiter
}

// NewTrainingDashboard takes over the terminal; call Close to restore it.
func NewTrainingDashboard(cfg DashboardConfig) (*TrainingDashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	// termui plots need at least two points
	d := &TrainingDashboard{
		totalEpochs:      cfg.Epochs,
		fullLossData:     []float64{0, 0},
		fullAccuracyData: []float64{0, 0},
		renderLimiter:    newRenderLimiter(cfg.RefreshInterval),
	}

	d.lossPlot = widgets.NewPlot()
	d.lossPlot.Title = "Episode Loss"
	d.lossPlot.Data = [][]float64{d.fullLossData}
	d.lossPlot.LineColors[0] = ui.ColorRed

	d.accuracyPlot = widgets.NewPlot()
	d.accuracyPlot.Title = "Validation Accuracy (%)"
	d.accuracyPlot.Data = [][]float64{d.fullAccuracyData}
	d.accuracyPlot.LineColors[0] = ui.ColorGreen

	d.progressGauge = widgets.NewGauge()
	d.progressGauge.Title = "Epoch Progress"
	d.progressGauge.BarColor = ui.ColorBlue
	d.systemList = widgets.NewList()
	d.systemList.Title = "System & Timing"
	d.progressList = widgets.NewList()
	d.progressList.Title = "Training Status"
	hyperParamList := widgets.NewList()
	hyperParamList.Title = "Task"
	hyperParamList.Rows = hyperParamRows(cfg)
	d.logParagraph = widgets.NewParagraph()
	d.logParagraph.Title = "Event Log"

	d.grid = ui.NewGrid()
	termWidth, termHeight := ui.TerminalDimensions()
	d.grid.SetRect(0, 0, termWidth, termHeight)
	d.grid.Set(
		ui.NewRow(0.4, ui.NewCol(0.5, d.lossPlot), ui.NewCol(0.5, d.accuracyPlot)),
		ui.NewRow(0.3, ui.NewCol(0.34, d.progressList), ui.NewCol(0.33, d.systemList), ui.NewCol(0.33, hyperParamList)),
		ui.NewRow(0.3, ui.NewCol(1.0, ui.NewRow(0.4, d.progressGauge), ui.NewRow(0.6, d.logParagraph))),
	)

	return d, nil
}

func hyperParamRows(cfg DashboardConfig) []string {
	return []string{
		fmt.Sprintf("Task: %s", cfg.Task),
		fmt.Sprintf("Epochs: %d", cfg.Epochs),
		fmt.Sprintf("Episodes/Epoch: %d", cfg.Episodes),
		fmt.Sprintf("Learn Rate: %.4f", cfg.LearningRate),
		fmt.Sprintf("Device: %s", cfg.Device),
	}
}

func newRenderLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Downsample averages data into targetWidth bins so a long history fits a plot.
func Downsample(data []float64, targetWidth int) []float64 {
	if targetWidth <= 0 || len(data) <= targetWidth {
		return data
	}

	downsampled := make([]float64, targetWidth)
	binSize := float64(len(data)) / float64(targetWidth)

	for i := 0; i < targetWidth; i++ {
		start := int(float64(i) * binSize)
		end := int(float64(i+1) * binSize)
		if end > len(data) {
			end = len(data)
		}

		bin := data[start:end]
		if len(bin) == 0 {
			if i > 0 {
				downsampled[i] = downsampled[i-1]
			}
			continue
		}

		var sum float64
		for _, v := range bin {
			sum += v
		}
		downsampled[i] = sum / float64(len(bin))
	}
	return downsampled
}

// Update records one training episode. The terminal is redrawn at most once per
// refresh interval, and always on the last episode of an epoch.
func (d *TrainingDashboard) Update(p protonet.Progress, epochStart, totalStart time.Time) {
	d.renderMutex.Lock()
	defer d.renderMutex.Unlock()

	d.fullLossData = append(d.fullLossData, p.Loss)
	if p.Episode < p.Episodes && !d.renderLimiter.Allow() {
		return
	}
	d.progressList.Rows = []string{
		fmt.Sprintf("Epoch: %d / %d", p.Epoch+1, d.totalEpochs),
		fmt.Sprintf("Episode: %d / %d", p.Episode, p.Episodes),
		fmt.Sprintf("Avg Loss: %.4f", p.AvgLoss),
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	epochElapsed := time.Since(epochStart).Round(time.Second)
	totalElapsed := time.Since(totalStart).Round(time.Second)
	var eta time.Duration
	if p.Episode > 0 {
		perEpisode := epochElapsed.Seconds() / float64(p.Episode)
		eta = time.Duration(perEpisode*float64(p.Episodes-p.Episode)) * time.Second
	}
	d.systemList.Rows = []string{
		fmt.Sprintf("Epoch Time: %v", epochElapsed),
		fmt.Sprintf("Total Time: %v", totalElapsed),
		fmt.Sprintf("ETA (Epoch): %v", eta),
		"---",
		fmt.Sprintf("Heap Alloc: %d MiB", memStats.Alloc/1024/1024),
		fmt.Sprintf("Goroutines: %d", runtime.NumGoroutine()),
	}
	d.progressGauge.Percent = int(float64(p.Episode) / float64(p.Episodes) * 100)
	d.lossPlot.Data[0] = Downsample(d.fullLossData, d.lossPlot.Inner.Dx())

	ui.Render(d.grid)
}

// AddEvaluation appends a validation result and re-renders.
func (d *TrainingDashboard) AddEvaluation(eval protonet.Evaluation) {
	d.renderMutex.Lock()
	defer d.renderMutex.Unlock()

	d.fullAccuracyData = append(d.fullAccuracyData, eval.Mean)
	d.accuracyPlot.Title = fmt.Sprintf("Validation Accuracy %.2f%% +- %.2f%%", eval.Mean, eval.CI95)
	d.lossPlot.Data[0] = Downsample(d.fullLossData, d.lossPlot.Inner.Dx())
	d.accuracyPlot.Data[0] = Downsample(d.fullAccuracyData, d.accuracyPlot.Inner.Dx())

	ui.Render(d.grid)
}

// Log shows message in the event log panel.
func (d *TrainingDashboard) Log(message string) {
	d.renderMutex.Lock()
	defer d.renderMutex.Unlock()
	d.logParagraph.Text = message
	ui.Render(d.grid)
}

func (d *TrainingDashboard) Close() { ui.Close() }

// Loop blocks until the user presses q or Ctrl-C.
func (d *TrainingDashboard) Loop() {
	uiEvents := ui.PollEvents()
	for e := range uiEvents {
		if e.ID == "q" || e.ID == "<C-c>" {
			return
		}
	}
}
