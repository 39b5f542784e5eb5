package service

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/divan/num2words"
	"github.com/noturnachs/wasteph-sub000/config"
	"github.com/noturnachs/wasteph-sub000/model"
	"github.com/noturnachs/wasteph-sub000/pkg/logger"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DocumentRenderer compiles a template with data into HTML and rasterizes
// HTML into a PDF.
type DocumentRenderer interface {
	Render(tmpl *model.Template, data model.JSONMap) (string, error)
	ToPDF(ctx context.Context, html string) ([]byte, error)
}

// Renderer renders documents through a single shared headless-browser
// engine. The engine is expensive to start, so it is created lazily, reused
// across calls, and only recreated when a call observes it dead. Each ToPDF
// call runs in an isolated tab context that is torn down afterwards.
type Renderer struct {
	cfg config.RendererConfig

	mu  sync.Mutex
	eng *engine
}

// engine holds the shared browser handle and its cancel chain.
type engine struct {
	browserCtx context.Context
	cancel     func()
}

func NewRenderer(cfg config.RendererConfig) *Renderer {
	return &Renderer{cfg: cfg}
}

var moneyPrinter = message.NewPrinter(language.English)

// FormatMoney renders a currency value with two decimals and thousands
// separators, e.g. 1234567.5 -> "1,234,567.50".
func FormatMoney(v float64) string {
	return moneyPrinter.Sprintf("%.2f", v)
}

// AmountInWords spells out the whole part of an amount.
func AmountInWords(v float64) string {
	return num2words.Convert(int(v))
}

// Render executes the template body against the payload. The data shape is
// validated only against the fields this template declares, never a global
// schema. Numeric fields gain "<name>_display" and "<name>_words"
// companions for use in the document body.
func (r *Renderer) Render(tmpl *model.Template, data model.JSONMap) (string, error) {
	for _, field := range tmpl.RequiredFields() {
		if _, ok := data[field]; !ok {
			return "", Invalid("document", field, fmt.Sprintf("template %q requires field %q", tmpl.Name, field))
		}
	}

	enriched := make(map[string]any, len(data)*2)
	for k, v := range data {
		enriched[k] = v
		if f, ok := asFloat(v); ok {
			if _, taken := data[k+"_display"]; !taken {
				enriched[k+"_display"] = FormatMoney(f)
			}
			if _, taken := data[k+"_words"]; !taken {
				enriched[k+"_words"] = AmountInWords(f)
			}
		}
	}

	t, err := template.New(tmpl.Name).Option("missingkey=error").Parse(tmpl.HTML)
	if err != nil {
		return "", RenderFailed(fmt.Errorf("parse template %q: %w", tmpl.Name, err))
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, enriched); err != nil {
		return "", RenderFailed(fmt.Errorf("execute template %q: %w", tmpl.Name, err))
	}
	return buf.String(), nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// ToPDF loads the HTML in a fresh tab on the shared engine and captures a
// paginated document. Three independent timeouts bound engine startup,
// content load and capture; each aborts only this call.
func (r *Renderer) ToPDF(ctx context.Context, html string) ([]byte, error) {
	eng, err := r.acquire(ctx)
	if err != nil {
		return nil, RenderFailed(err)
	}

	tabCtx, tabCancel := chromedp.NewContext(eng.browserCtx)
	defer tabCancel()

	loadCtx, loadCancel := context.WithTimeout(tabCtx, r.timeout(r.cfg.LoadTimeoutSecs))
	defer loadCancel()
	err = chromedp.Run(loadCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, html).Do(ctx)
		}),
	)
	if err != nil {
		r.dropIfDead(eng)
		return nil, RenderFailed(fmt.Errorf("load content: %w", err))
	}

	var pdf []byte
	captureCtx, captureCancel := context.WithTimeout(tabCtx, r.timeout(r.cfg.CaptureTimeoutSecs))
	defer captureCancel()
	err = chromedp.Run(captureCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		if err != nil {
			return err
		}
		pdf = buf
		return nil
	}))
	if err != nil {
		r.dropIfDead(eng)
		return nil, RenderFailed(fmt.Errorf("capture pdf: %w", err))
	}

	return pdf, nil
}

func (r *Renderer) timeout(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}

// acquire returns the shared engine, starting it if this is the first call
// or the previous instance was observed dead.
func (r *Renderer) acquire(ctx context.Context) (*engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.eng != nil {
		if r.eng.browserCtx.Err() == nil {
			return r.eng, nil
		}
		// The browser process died. Drop the cached handle; its cancel chain
		// only releases resources, the process is already gone.
		logger.Warn(ctx, "rendering engine found dead, discarding handle")
		r.eng.cancel()
		r.eng = nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(),
		chromedp.DefaultExecAllocatorOptions[:]...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	startCtx, startCancel := context.WithTimeout(browserCtx, r.timeout(r.cfg.StartupTimeoutSecs))
	defer startCancel()
	if err := chromedp.Run(startCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start rendering engine: %w", err)
	}

	r.eng = &engine{
		browserCtx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
	}
	logger.Info(ctx, "rendering engine started")
	return r.eng, nil
}

// dropIfDead clears the cached engine only when it is both the current one
// and actually dead. A live engine that merely timed out a call is left
// alone for the next caller; the test-and-clear under the mutex prevents two
// callers from double-closing.
func (r *Renderer) dropIfDead(eng *engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eng != eng || eng.browserCtx.Err() == nil {
		return
	}
	eng.cancel()
	r.eng = nil
}

// Alive reports whether a shared engine exists and is healthy.
func (r *Renderer) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.eng != nil && r.eng.browserCtx.Err() == nil
}

// Shutdown disposes the shared engine. Called once on process exit.
func (r *Renderer) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eng != nil {
		r.eng.cancel()
		r.eng = nil
	}
}
