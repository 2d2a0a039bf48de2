package main

import (
	"github.com/Paintersrp/hatch/internal/cli"
	"github.com/Paintersrp/hatch/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
