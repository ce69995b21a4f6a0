package main

import (
	"fmt"
	"io"

	"github.com/common-nighthawk/go-figure"
	"github.com/fxnlabs/offload-harness/internal/config"
)

func printBanner(w io.Writer, cfg *config.Config) {
	myFigure := figure.NewFigure("Offload", "", true)
	fmt.Fprintln(w, myFigure.String())
	fmt.Fprintf(w, "Workload: %s\n", cfg.Workload)
	fmt.Fprintf(w, "Platform: %s (%d devices)\n", cfg.Platform.Name, len(cfg.Platform.Devices))
	fmt.Fprintln(w, "-----------------------------------------------")
}
