// Command tentload runs the tentative load analyzer.
package main

import (
	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/sirkon/tentload"
)

func main() {
	singlechecker.Main(tentload.Analyzer)
}
