// Package config handles loading and validating Portal Bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Portal credentials should be set via environment variables
//     (SMARTHOME_USERNAME, SMARTHOME_PASSWORD or the PORTALBRIDGE_ equivalents)
//   - The config file should have restricted permissions (0600)
//   - Leaving security.jwt.secret empty disables API token checks
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Portal.BaseURL)
package config
