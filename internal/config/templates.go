package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "client":
		return clientTemplate, nil
	case "hub":
		return hubTemplate, nil
	default:
		return "", fmt.Errorf("config: unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config: already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const clientTemplate = `log_level = "info"

url = "ws://127.0.0.1:8090/ws"
subprotocol = ""
platform = "go"
connect_timeout = "5s"
write_timeout = "10s"

codec = "json"
verbose = false
reconnect_interval = "5s"
reconnect_multiplier = 1.0
reconnect_max_delay = "0s"
reconnect_jitter = false
ping_interval = "3s"
ping_attempts = 5
send_retry_delay = "500ms"
send_idle_interval = "100ms"
max_queue_len = 0

[headers]

[tls]
ca_file = ""
server_name = ""
insecure_skip_verify = false
cert_file = ""
key_file = ""
`

const hubTemplate = `log_level = "info"

id = "wshub"
addr = "127.0.0.1:8090"
path = "/ws"
subprotocols = []
allowed_platforms = []
token = ""
read_limit = 16777216
write_timeout = "10s"
shutdown_timeout = "5s"
tls_cert_file = ""
tls_key_file = ""

[info]
region = "local"
`
