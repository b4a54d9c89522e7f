// Package config provides application configuration management.
//
// The config package handles loading and validation of the worker's
// configuration from a YAML file, with TESTBOT_ prefixed environment
// variables overriding individual keys.
//
// Usage:
//
//	cfg, err := config.New("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Master: %s\n", cfg.Master.URL)
package config
