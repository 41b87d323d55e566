package tui

import (
	"fmt"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the startup banner for interactive commands.
func PrintBanner() {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{`  ___          _ _      _    _                         _ `, "#38bdf8"},
		{` / __|_ __ __ (_) |_ __| |_ | |__  ___  __ _ _ _ __| | |`, "#22d3ee"},
		{` \__ \ V  V / | |  _/ _|   \| '_ \/ _ \/ _' | '_/ _' |_|`, "#2dd4bf"},
		{` |___/\_/\_/  |_|\__\__|_||_|_.__/\___/\__,_|_| \__,_(_)`, "#34d399"},
	}

	fmt.Println()
	for _, l := range lines {
		fmt.Println(termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Println()
}
