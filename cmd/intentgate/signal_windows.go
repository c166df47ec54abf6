//go:build windows

package main

import (
	"os"
)

// terminationSignals stop the server gracefully; only Ctrl+C is delivered on Windows.
var terminationSignals = []os.Signal{os.Interrupt}
