// Package config handles configuration loading for panorama.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PANORAMA_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/panorama/config.yaml
//  3. ~/.config/panorama/config.yaml
//
// Files ending in .toml are read as TOML; anything else as YAML. A missing
// file means defaults.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PANORAMA_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Durations
//
// Durations use time.ParseDuration syntax plus a day unit:
//
//	loop_guard:
//	  window: 2s
//	audit:
//	  retention: 30d
//
// # Example
//
//	database:
//	  path: ~/.local/share/panorama/panorama.db
//	logging:
//	  level: info
//	  format: text
//	server:
//	  http_addr: 127.0.0.1:8765
//	  require_auth: true
//	  url_token_caps: [read]
//	auth:
//	  jwt_secret: "${PANORAMA_JWT_SECRET}"
//	loop_guard:
//	  window: 2s
//	  threshold: 10
//	timeouts:
//	  connect: 10s
//	  call_tool: 30s
//	servers:
//	  - id: search
//	    transport: http
//	    url: https://tools.example.com/rpc
//	  - id: fs
//	    transport: stdio
//	    command: mcp-fs
//	    args: ["--root", "/srv"]
package config
