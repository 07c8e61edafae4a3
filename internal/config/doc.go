// Package config handles configuration loading for coven-chat.
//
// # Overview
//
// Configuration is loaded from a YAML (or, for *.toml paths, TOML) file with
// environment variable expansion. Every field has a default, so running
// without a file works against a local backend.
//
// # Configuration File
//
// Locations (first match wins):
//
//  1. The --config flag
//  2. Path from COVEN_CHAT_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/coven-chat/config.yaml (~/.config when unset)
//
// Only a missing file at the default location falls back to defaults. The
// COVEN_CHAT_SERVER environment variable overrides server.base_url.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	server:
//	  base_url: "${CHAT_BACKEND}"
//
// # Configuration Sections
//
//	server:
//	  base_url: "http://localhost:8000"
//	  request_timeout: "30s"        # REST calls only, never streams
//
//	session:
//	  file: "~/.config/coven-chat/session.json"
//	  cookie_name: "access_token"
//	  csrf_cookie_name: "csrf_token"
//	  csrf_header: "X-CSRF-Token"
//
//	stream:
//	  idle_timeout: "0s"            # 0 disables
//	  subscriber_buffer: 64
//
//	journal:
//	  enabled: false
//	  path: "~/.local/share/coven-chat/journal.db"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
