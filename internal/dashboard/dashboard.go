// Package dashboard renders a live terminal view of the rate limiter status
// served by the status listener.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/pdmimpulse/raindrop-mcp/internal/limiter"
	"github.com/pdmimpulse/raindrop-mcp/internal/transport"
	"github.com/pdmimpulse/raindrop-mcp/internal/utils"
)

// Config controls the dashboard
type Config struct {
	// URL of the /status endpoint
	URL string

	// Interval between polls
	Interval time.Duration

	// Timeout of one poll
	Timeout time.Duration
}

// Fetcher polls the status endpoint
type Fetcher struct {
	url    string
	client *http.Client
}

// NewFetcher creates a Fetcher for url
func NewFetcher(url string, timeout time.Duration, logger *utils.Logger) *Fetcher {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	pool := transport.DefaultPoolConfig()
	pool.MaxConns, pool.MaxConnsPerHost = 2, 2
	return &Fetcher{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			Transport: transport.New(
				transport.WithBase(transport.NewPooledTransport(pool)),
				transport.WithLogger(logger),
			),
		},
	}
}

// Fetch returns the current status snapshot
func (f *Fetcher) Fetch(ctx context.Context) (limiter.Status, error) {
	var status limiter.Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return status, fmt.Errorf("build status request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return status, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return status, fmt.Errorf("fetch status: unexpected status code %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}

// Widgets holds the dashboard panels
type Widgets struct {
	Tokens   *widgets.Gauge
	Lanes    *widgets.BarChart
	Breaker  *widgets.Paragraph
	Counters *widgets.Paragraph
	Footer   *widgets.Paragraph

	grid *ui.Grid
}

// NewWidgets creates the panels laid out on a grid
func NewWidgets() *Widgets {
	w := &Widgets{
		Tokens:   widgets.NewGauge(),
		Lanes:    widgets.NewBarChart(),
		Breaker:  widgets.NewParagraph(),
		Counters: widgets.NewParagraph(),
		Footer:   widgets.NewParagraph(),
		grid:     ui.NewGrid(),
	}

	w.Tokens.Title = "Tokens"
	w.Tokens.BarColor = ui.ColorGreen

	w.Lanes.Title = "Queued requests"
	w.Lanes.Labels = []string{"high", "normal", "low"}
	w.Lanes.Data = []float64{0, 0, 0}
	w.Lanes.BarWidth = 8
	w.Lanes.BarColors = []ui.Color{ui.ColorRed, ui.ColorYellow, ui.ColorBlue}

	w.Breaker.Title = "Circuit breaker"
	w.Counters.Title = "Counters"
	w.Footer.Border = false
	w.Footer.Text = "q or Ctrl-C to quit"

	w.grid.Set(
		ui.NewRow(0.25, ui.NewCol(1.0, w.Tokens)),
		ui.NewRow(0.45,
			ui.NewCol(0.5, w.Lanes),
			ui.NewCol(0.5, w.Breaker),
		),
		ui.NewRow(0.25, ui.NewCol(1.0, w.Counters)),
		ui.NewRow(0.05, ui.NewCol(1.0, w.Footer)),
	)
	return w
}

// Resize fits the grid to the terminal
func (w *Widgets) Resize(width, height int) {
	w.grid.SetRect(0, 0, width, height)
}

// Update copies a status snapshot, or the poll error, into the panels
func (w *Widgets) Update(status limiter.Status, err error) {
	if err != nil {
		w.Footer.Text = "status unavailable: " + err.Error()
		w.Footer.TextStyle = ui.NewStyle(ui.ColorRed)
		return
	}
	w.Footer.Text = fmt.Sprintf("updated %s | q or Ctrl-C to quit", time.Now().Format("15:04:05"))
	w.Footer.TextStyle = ui.NewStyle(ui.ColorWhite)

	percent := 0
	if status.Capacity > 0 {
		percent = status.TokensAvailable * 100 / status.Capacity
	}
	if percent > 100 {
		percent = 100
	}
	w.Tokens.Percent = percent
	w.Tokens.Label = fmt.Sprintf("%d / %d (%d rpm)", status.TokensAvailable, status.Capacity, status.RequestsPerMinute)
	switch {
	case percent < 10:
		w.Tokens.BarColor = ui.ColorRed
	case percent < 50:
		w.Tokens.BarColor = ui.ColorYellow
	default:
		w.Tokens.BarColor = ui.ColorGreen
	}

	w.Lanes.Data = []float64{
		float64(status.QueueSizes.High),
		float64(status.QueueSizes.Normal),
		float64(status.QueueSizes.Low),
	}

	cb := status.CircuitBreaker
	if !cb.Enabled {
		w.Breaker.Text = "disabled"
		w.Breaker.BorderStyle = ui.NewStyle(ui.ColorWhite)
	} else {
		w.Breaker.Text = fmt.Sprintf("state: %s\nconsecutive failures: %d", cb.State, cb.FailureCount)
		w.Breaker.BorderStyle = ui.NewStyle(breakerColor(cb.State))
	}

	stats := status.Statistics
	running := "stopped"
	if status.Running {
		running = "running"
	}
	w.Counters.Text = fmt.Sprintf(
		"limiter: %s\nprocessed: %d   queued: %d   rejected: %d\nbreaker trips: %d   average wait: %.3fs",
		running,
		stats.RequestsProcessed, stats.RequestsQueued, stats.RequestsRejected,
		stats.CircuitBreakerTrips, stats.AverageWaitSeconds,
	)
}

func breakerColor(state limiter.CircuitState) ui.Color {
	switch state {
	case limiter.StateOpen:
		return ui.ColorRed
	case limiter.StateHalfOpen:
		return ui.ColorYellow
	default:
		return ui.ColorGreen
	}
}

// Render draws the grid
func (w *Widgets) Render() {
	ui.Render(w.grid)
}

// Run takes over the terminal and refreshes the panels every interval until
// ctx is done or the user quits
func Run(ctx context.Context, cfg Config, logger *utils.Logger) error {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	fetcher := NewFetcher(cfg.URL, cfg.Timeout, logger)

	if err := ui.Init(); err != nil {
		return fmt.Errorf("initialize terminal: %w", err)
	}
	defer ui.Close()

	w := NewWidgets()
	w.Resize(ui.TerminalDimensions())

	refresh := func() {
		status, err := fetcher.Fetch(ctx)
		if err != nil {
			logger.Warn("Status poll failed", map[string]interface{}{
				"url":   cfg.URL,
				"error": err.Error(),
			})
		}
		w.Update(status, err)
		w.Render()
	}
	refresh()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()
	events := ui.PollEvents()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				w.Resize(payload.Width, payload.Height)
				ui.Clear()
				w.Render()
			}
		case <-ticker.C:
			refresh()
		}
	}
}
