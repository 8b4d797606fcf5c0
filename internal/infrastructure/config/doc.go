// Package config handles loading and validating the script runner configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with TSSCRIPT_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// The site section replaces the process-wide topic namespace and site
// environment variables: every remote, script topic and LFA bucket name is
// derived from it explicitly.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Namespace)
package config
