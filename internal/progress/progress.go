// Package progress wraps the terminal progress bar used for multi-package
// builds. A nil or disabled bar is safe to use and does nothing, so callers
// never need to branch on interactivity.
package progress

import (
	"github.com/schollz/progressbar/v3"
)

type Bar struct {
	bar *progressbar.ProgressBar
}

// New returns a bar over total steps, or an inert bar when disabled.
func New(enabled bool, total int, description string) *Bar {
	if !enabled {
		return &Bar{}
	}

	return &Bar{bar: progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)}
}

func (b *Bar) Increment() {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Add(1)
}

func (b *Bar) Done() {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Finish()
}
