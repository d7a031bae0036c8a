//go:build tools

package main

// This file keeps build-time generators tracked in go.mod even though
// they're not imported by regular code. Fakes for the executor, mirror
// and sampler interfaces are produced with `go generate ./...`.

import (
	_ "github.com/maxbrunsfeld/counterfeiter/v6"
)
