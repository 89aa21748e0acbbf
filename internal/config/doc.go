// Package config loads agent SDK configuration.
//
// Configuration comes from three layers, later layers winning:
//   - built-in defaults
//   - an optional YAML file, with ${VAR} references expanded from the environment
//   - the SOCKET_PORT, SERVER_URL and AGENT_DEV environment overrides
//
// A .env file in the working directory, when present, is loaded into the
// process environment before any of this happens. Connection identification
// parameters are read separately by FromEnvironment.
package config
