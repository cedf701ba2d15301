// Command inspect renders a YAML scenario and shows each async region
// settle in a small terminal UI.
package main

import (
	"flag"
	"log"

	tea "github.com/charmbracelet/bubbletea"

	asyncssr "github.com/revskill10/react-async-ssr"
)

func main() {
	scenarioPath := flag.String("scenario", "", "YAML scenario file (built-in demo when empty)")
	flag.Parse()

	sc, err := loadScenario(*scenarioPath)
	if err != nil {
		log.Fatalf("load scenario: %v", err)
	}

	m, err := newModel(sc, asyncssr.New())
	if err != nil {
		log.Fatalf("render scenario: %v", err)
	}

	if _, err := tea.NewProgram(m).Run(); err != nil {
		log.Fatalf("ui: %v", err)
	}
}
