// Package config loads YAML configuration for nimbusfs, with environment
// variable overlays and validation.
//
// Precedence, lowest to highest: compiled-in defaults (NewDefault),
// the YAML file (LoadFromFile), then environment variables (LoadFromEnv).
//
//	cfg := config.NewDefault()
//	if err := cfg.LoadFromFile("/etc/nimbusfs/config.yaml"); err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.LoadFromEnv(); err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatal(err)
//	}
package config
