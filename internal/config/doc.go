// Package config handles configuration loading for flyme.
//
// # Overview
//
// Configuration is loaded from a TOML or YAML file, expanded with
// environment variables, then overlaid with a fixed set of well-known
// environment variables. A deployment may skip the file entirely and
// configure everything through the environment.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from FLYME_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/flyme/config.toml
//  3. ~/.config/flyme/config.toml
//
// Files ending in .yaml or .yml are parsed as YAML; everything else as TOML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	[agent]
//	api_key = "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Environment Overlay
//
// These variables override file values when set and non-empty:
//
//	OPENAI_API_KEY   agent.api_key
//	OPENAI_BASE_URL  agent.base_url
//	SLACK_BOT_TOKEN  slack.bot_token
//	SLACK_APP_TOKEN  slack.app_token
//	LOG_LEVEL        logging.level
//
// # Configuration Sections
//
//	transport = "slack"            # slack or matrix
//
//	[slack]
//	bot_token = "xoxb-..."
//	app_token = "xapp-..."
//
//	[matrix]
//	homeserver = "https://matrix.org"
//	username = "flyme"
//	password = "${MATRIX_PASSWORD}"
//	recovery_key = ""              # enables E2EE when set
//
//	[agent]
//	model = "gpt-4o"
//	max_turns = 10
//	timeout = "2m"
//	instructions_path = ""         # empty uses the built-in template
//
//	[conversation]
//	window = 5
//	max_users = 0                  # 0 keeps every user
//
//	[dedupe]
//	ttl = "10m"
//	max_size = 10000
//
//	[ops]
//	addr = "127.0.0.1:9090"        # /health, /ready, /metrics
//
//	[ledger]
//	path = "/var/lib/flyme/ledger.db"
//
//	[logging]
//	level = "info"                 # debug, info, warn, error
//
// # Validation
//
// Load validates the transport name, then reports every missing credential
// for that transport in one *MissingError, then checks URLs and value ranges.
package config
