package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// ChromeLauncher starts a fresh headless Chrome per capture.
type ChromeLauncher struct {
	NoSandbox bool
	UserAgent string
}

// Launch implements Launcher.
func (l ChromeLauncher) Launch(ctx context.Context, width, height int) (Page, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", l.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(width, height),
	)
	if l.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser; it must use the tab context itself.
	if err := chromedp.Run(tabCtx, chromedp.EmulateViewport(int64(width), int64(height))); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &chromePage{ctx: tabCtx, tabCancel: tabCancel, allocCancel: allocCancel}, nil
}

type chromePage struct {
	ctx         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
}

// run executes actions on the tab, bounded by ctx's deadline and cancellation.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if dl, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(p.ctx, dl)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) WaitRender(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) Apply(ctx context.Context, rule Rule, timeout time.Duration) (int, error) {
	switch rule.Action {
	case ActionRemove:
		var removed int
		script := fmt.Sprintf(`(() => { const els = document.querySelectorAll(%s); els.forEach(e => e.remove()); return els.length; })()`, jsString(rule.Selector))
		err := p.withTimeout(ctx, timeout, chromedp.Evaluate(script, &removed))
		return removed, err
	case ActionEscape:
		nodes, err := p.query(ctx, rule.Selector, timeout)
		if err != nil || len(nodes) == 0 {
			return 0, err
		}
		if err := p.withTimeout(ctx, timeout, chromedp.KeyEvent(kb.Escape)); err != nil {
			return 0, err
		}
		return 1, nil
	default:
		nodes, err := p.query(ctx, rule.Selector, timeout)
		if err != nil {
			return 0, err
		}
		clicked := 0
		for _, node := range nodes {
			// Stale or hidden nodes fail within timeout and are skipped.
			if err := p.withTimeout(ctx, timeout, chromedp.MouseClickNode(node)); err != nil {
				if ctx.Err() != nil {
					return clicked, ctx.Err()
				}
				continue
			}
			clicked++
		}
		return clicked, nil
	}
}

func (p *chromePage) query(ctx context.Context, selector string, timeout time.Duration) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	err := p.withTimeout(ctx, timeout, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	return nodes, err
}

func (p *chromePage) withTimeout(ctx context.Context, timeout time.Duration, action chromedp.Action) error {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.run(actx, action)
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.tabCancel()
	p.allocCancel()
	return err
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

var _ Launcher = ChromeLauncher{}
