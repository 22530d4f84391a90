// Package config provides configuration loading for scriptdbg.
//
// Configuration is read from a TOML file, then overridden by SCRIPTDBG_*
// environment variables, then by command-line flags applied by the caller.
package config
