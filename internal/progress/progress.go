// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/nitrofs

// Package progress renders a file counter bar on stderr when it is a terminal.
package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"
)

const descLength = 24

// Bar counts finished files. A disabled bar accepts every call and renders nothing.
// Methods are safe for concurrent use.
type Bar struct {
	container   *mpb.Progress
	bar         *mpb.Bar
	mu          sync.Mutex
	description string
}

// New creates a bar for total items. The bar is rendered only when enabled
// is true and stderr is a terminal.
func New(total int, enabled bool) *Bar {
	if !enabled || !IsTerminal() {
		return &Bar{}
	}

	return newBar(os.Stderr, total)
}

// newBar renders to out unconditionally.
func newBar(out io.Writer, total int) *Bar {
	p := &Bar{}

	p.container = mpb.New(
		mpb.WithOutput(out),
		mpb.WithWidth(64),
		mpb.WithRefreshRate(100*time.Millisecond),
	)

	p.bar = p.container.New(int64(total),
		mpb.BarStyle().Lbound("[").Filler("█").Tip("█").Padding("░").Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(decor.Statistics) string {
				return p.label()
			}, decor.WC{W: descLength, C: decor.DindentRight}),
			decor.Name("  "),
			decor.CountersNoUnit("%d/%d", decor.WC{C: decor.DindentRight}),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
		),
	)

	return p
}

// Enabled reports whether the bar renders.
func (p *Bar) Enabled() bool {
	return p.bar != nil
}

// Done advances the bar by one and shows description.
func (p *Bar) Done(description string) {
	if p.bar == nil {
		return
	}

	p.mu.Lock()
	p.description = description
	p.mu.Unlock()

	p.bar.Increment()
}

// Finish completes the bar and waits for the final render.
func (p *Bar) Finish() {
	if p.container == nil {
		return
	}

	p.bar.SetTotal(-1, true)
	p.container.Wait()
}

// label returns the current description clipped to the decorator width.
func (p *Bar) label() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.description) > descLength {
		return ".." + p.description[len(p.description)-descLength+2:]
	}

	return p.description
}

// IsTerminal reports whether stderr is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
