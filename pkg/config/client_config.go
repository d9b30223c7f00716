package config

import (
	"path/filepath"

	"github.com/icatools/icat/icatapi"
)

// ServiceOverride returns the catalogue URL set in the environment, if any.
func ServiceOverride(state State) *string {
	value, ok := state.Env[EnvIcatService]
	if !ok {
		return nil
	}
	return &value
}

// AuthOverride returns the login credential string set in the environment,
// if any.
func AuthOverride(state State) *string {
	value, ok := state.Env[EnvIcatAuth]
	if !ok {
		return nil
	}
	return &value
}

// SchemaVersion returns the schema version to assume for services that do
// not report one.
func SchemaVersion(state State) string {
	if value, ok := state.Env[EnvIcatSchema]; ok {
		return value
	}
	return icatapi.SchemaVersionDefault
}

// MirrorConfigPath returns the path of the mirror configuration document.
func MirrorConfigPath(state State) string {
	if value, ok := state.Env[EnvIcatMirrors]; ok {
		return value
	}
	return filepath.Join(state.HomeDirectory, ".icat", "mirrors.json")
}

// KeepPartialOutputs reports whether partially written dump files should
// survive a failed dump.
func KeepPartialOutputs(state State) bool {
	_, ok := state.Env[EnvIcatKeepPartial]
	return ok
}
