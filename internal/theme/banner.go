package theme

import (
	"fmt"
)

// Banner returns the magpie banner.
func Banner() string {
	const cyan = "\033[36m"
	const yellow = "\033[33m"
	const reset = "\033[0m"

	art := "" +
		"   " + cyan + "MAGPIE" + reset + "  ▄▖▄▖\n" +
		cyan + "      ▗▄█▀▀█▄▖ ▐▌\n" + reset +
		cyan + "     ▐█▌    ▀██▄▌\n" + reset +
		yellow + "   ──────────────────\n" + reset +
		"   hoards X media timelines, resumes where it left off\n"
	return art
}

// PrintBanner prints the banner to stdout.
func PrintBanner() {
	fmt.Print(Banner())
}
