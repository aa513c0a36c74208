package config_test

import (
	"fmt"
	"log"

	"github.com/robert-malhotra/asf-insar/internal/config"
)

func ExampleLoad() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Archive: %s\n", cfg.Search.Archive)
	fmt.Printf("ASF API: %s\n", cfg.ASF.BaseURL)
	fmt.Printf("Orbit source: %s\n", cfg.Orbit.Source)
	fmt.Printf("Engine: %s --end=%s\n", cfg.Engine.Command, cfg.Engine.EndStep)
	fmt.Printf("Looks: %dx%d\n", cfg.Engine.RangeLooks, cfg.Engine.AzimuthLooks)

	// Output:
	// Archive: asf
	// ASF API: https://api.daac.asf.alaska.edu
	// Orbit source: asf
	// Engine: topsApp.py --end=geocodeoffsets
	// Looks: 20x5
}
