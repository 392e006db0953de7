/*
Package config holds the explicit configuration value for the Hindsight
agent.

Configuration is resolved once at startup and passed down; nothing reads it
ambiently. Resolution order: platform-discovered defaults, then an optional
config.yaml in the data directory, then HINDSIGHT_* environment variables,
then interval clamping (process polling never below 5s, shell history below
10s, browser history below 60s).

The package also owns platform path discovery: the per-OS data directory,
Chrome and Firefox history database locations, shell history files, and the
default set of watched directories under the user's home.
*/
package config
