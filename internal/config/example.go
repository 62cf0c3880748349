package config

// ExampleConfig is written to the config path on first run.
const ExampleConfig = `# Redirect URI registered with the Spotify application.
redirect-uri: "http://localhost:8888/callback"

# Scopes requested during sign-in.
scopes:
  - user-read-private

# Directory for the file secret store and log files.
auth-dir: "~/.tokenkeeper"

debug: false
logging-to-file: false
logs-max-total-size-mb: 0

# Optional outbound proxy (socks5://, http://, https://).
proxy-url: ""

secret-store:
  # file | postgres | object | git
  type: file
  # Encrypt values with SECRETSTORE_PASSPHRASE before they reach the backend.
  encrypt: false
`
