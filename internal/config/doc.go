// Package config provides configuration management for genoflow.
//
// Configuration is loaded from environment variables using the env package;
// CLI flags may override individual fields afterwards. All values have
// sensible defaults for development use.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
