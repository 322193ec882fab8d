// Package config loads typed configuration structs from environment
// variables, with optional .env file support for local development.
//
// Each configuration type is parsed exactly once per process and cached, so
// components can call Load for their own config independently without
// re-reading the environment.
package config
