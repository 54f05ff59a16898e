package driver

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
)

// SelfTest launches a throwaway browser, navigates to a blank page and
// evaluates a trivial expression. It verifies Chrome starts with the
// configured options without touching any live profile; diagnostics run
// it before blaming a notebook operation on the browser.
func SelfTest(ctx context.Context, opts Options) error {
	// Never bind the probe to a profile a real session may be using.
	opts.UserDataDir = ""
	opts.Headless = true
	opts = opts.withDefaults()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(opts)...)
	defer allocCancel()

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()

	opCtx, opCancel := context.WithTimeout(tabCtx, opts.PageLoadTimeout)
	defer opCancel()

	var out int
	err := chromedp.Run(opCtx,
		chromedp.Navigate("about:blank"),
		chromedp.Evaluate(`1+1`, &out),
	)
	if err != nil {
		return classifyError("selfTest", err)
	}
	if out != 2 {
		return fmt.Errorf("selfTest: evaluate returned %d, want 2", out)
	}
	return nil
}
