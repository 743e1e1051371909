// Package config resolves the licensing appliance's single
// configuration value: environment variables layered over an
// optional YAML file, with the shared-app-data path layout folded in
// at load time so nothing downstream reads the environment directly.
package config
