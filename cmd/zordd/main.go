// Command zordd serves a local GGUF coding model over HTTP with per-client
// daily quotas.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
