package config

import (
	"fmt"
	"os"
)

// Template returns a commented starter config.
func Template() string {
	return nodeTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(nodeTemplate), 0o600)
}

const nodeTemplate = `[node]
name = "actiond"
# fixtures = "fixtures.toml"

[transport]
addr = ":9300"
# Pin to an older protocol version to act like a not-yet-upgraded node.
# compat_version = "8.0.0"
compression = true
compression_threshold = 1024
max_payload_bytes = 8388608
read_timeout = ""
write_timeout = "15s"
handshake_timeout = "5s"
security_mode = "development"

[transport.tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""

[admin]
addr = ":9200"
cors_origins = ["http://localhost:3000"]
`
