// Package config loads and validates the bridge configuration.
//
// Settings come from environment variables with the CADBRIDGE_ prefix
// (for example CADBRIDGE_MODE selects the transport kind), optionally
// seeded from a YAML file. Validation uses struct tags so a bad value is
// rejected at startup rather than at first use.
package config
