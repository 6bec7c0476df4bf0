// Package config handles configuration loading for scanbot.
//
// # Configuration File
//
// Configuration is read from YAML, or TOML when the file name ends in
// ".toml". The serve command looks for the path in SCANBOT_CONFIG, then
// ./scanbot.yaml. With no file at all, FromEnv builds a config from defaults
// and the process environment.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	telegram:
//	  token: "${TELEGRAM_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Environment Overrides
//
// After parsing, a few process-level variables override the file:
//
//	TELEGRAM_TOKEN                   telegram.token (and enables telegram)
//	PUBLIC_URL / RENDER_WEBHOOK_URL  server.public_url
//	PORT                             server.http_addr becomes ":PORT"
//
// # Sections
//
//	server:
//	  http_addr: "0.0.0.0:8000"     # webhook, health, admin API
//	  grpc_addr: ""                 # gRPC health service, disabled when empty
//	  public_url: "https://bot.example.com"
//
//	database:
//	  path: "./scanbot.db"
//
//	scan:
//	  steps: 10
//	  step_duration: "1s"
//	  tick_interval: "100ms"        # must be shorter than step_duration
//	  send_timeout: "10s"
//	  shutdown_grace: "5s"
//
//	telegram:
//	  enabled: true
//	  token: "${TELEGRAM_TOKEN}"
//	  secret_token: "${TELEGRAM_WEBHOOK_SECRET}"
//	  allowed_chats: [12345]
//
//	matrix:
//	  enabled: false
//	  homeserver: "https://matrix.org"
//	  user_id: "@scanbot:matrix.org"
//	  access_token: "${MATRIX_TOKEN}"
//	  allowed_rooms: ["!room:matrix.org"]
//	  command_prefix: "!"
//
//	tailscale:
//	  enabled: false
//	  hostname: "scanbot"
//	  funnel: true                  # public webhook URL via Funnel
//
//	auth:
//	  jwt_secret: "${SCANBOT_JWT_SECRET}"  # admin API, open when empty
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
