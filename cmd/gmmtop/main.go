package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
)

var (
	version = "dev"
)

func main() {
	for _, arg := range os.Args[1:] {
		switch arg {
		case "--help", "-h":
			fmt.Println("gmmtop - live view of a simulated GPU allocator workload")
			fmt.Println()
			fmt.Println("Keys: q quit, space pause, t trim pooled memory")
			os.Exit(0)
		case "--version", "-v":
			fmt.Printf("gmmtop %s\n", version)
			os.Exit(0)
		}
	}

	p := tea.NewProgram(newModel(), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
