// Package diagnostics probes the pieces a working Colab session depends
// on: server configuration, Google credentials and tokens, the Chrome
// profile, Colab frontend reachability and the browser itself. The
// run_diagnostics tool exposes the resulting report so users can find
// out why an execution fails without reading server logs.
package diagnostics
