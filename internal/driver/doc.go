// Package driver runs code in Google Colab notebooks through a real
// Chrome browser controlled over the DevTools protocol.
//
// The package provides:
//   - ExecutionDriver, the contract the execution gateway programs
//     against: open a notebook, execute cells, upload files
//   - ChromeDriver, the chromedp-backed implementation with persistent
//     per-user profiles and anti-detection options
//   - GoogleLoginFlow, the interactive sign-in used to establish a
//     session inside a profile
//
// A ChromeDriver owns one browser process per profile and one tab per
// open notebook. Handles are safe for concurrent use; operations on the
// same tab are serialized internally.
//
// Example usage:
//
//	d := driver.NewChromeDriver(driver.FromConfig(cfg, profileDir))
//	defer d.Close()
//
//	h, err := d.OpenNotebook(ctx, notebookID)
//	if err != nil {
//		return err
//	}
//	res, err := h.ExecuteCell(ctx, "print(2+2)", 30*time.Second)
package driver
