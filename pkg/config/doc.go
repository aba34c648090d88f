// Package config loads application configuration from environment variables
// into tagged structs, with optional .env file support for local development.
//
// Configuration structs declare their environment bindings with `env` tags:
//
//	type PGConfig struct {
//		ConnString string `env:"PG_CONN_URL,required"`
//		MaxConns   int32  `env:"PG_MAX_OPEN_CONNS" envDefault:"10"`
//	}
//
// Load caches parsed values per struct type, so independent components can
// each call Load for the config they need without coordination.
package config
