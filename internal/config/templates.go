package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "worker", "reportctl":
		return workerTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const workerTemplate = `gateway_addr = "127.0.0.1:4433"
worker_id = "worker-1"
image = "alpine:3.20"
# channel = "worker:worker-1"
timeout = "10s"
# max_frame_bytes = 16777216

[tls]
security_mode = "development"
# chain | pinned | tofu | insecure
trust = "tofu"
known_hosts_file = "known_hosts.toml"
# ca_file = "/etc/reportgate/ca.crt"
# pinned_fingerprint = ""
# server_name = ""
`
