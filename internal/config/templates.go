package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "device":
		return deviceTemplate, nil
	case "daemon":
		return daemonTemplate, nil
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

const deviceTemplate = `device = "acme-nic"

[[interfaces]]
name = "vf0"
function_id = 0x00010000
interface_info = ["dma_no_pasid"]
msix_message_control = 0x0007
device_specific_info = "61636d652d6e6963"
lock_flags = ["no_fw_update", "lock_msix"]
dev_addr_width = 52
num_req_this = 1
num_req_all = 2

[[interfaces.mmio_ranges]]
first_page = 0x80000
pages = 16
range_id = 0

[[interfaces.mmio_ranges]]
first_page = 0x80010
pages = 1
range_id = 2
attributes = ["msix_table"]

[[interfaces.secrets]]
name = "ide-key"
size = 32

[[interfaces]]
name = "vf1"
function_id = 0x00010001
interface_info = ["dma_no_pasid"]
lock_flags = ["no_fw_update"]
dev_addr_width = 52
num_req_this = 1
num_req_all = 2

[[interfaces.mmio_ranges]]
first_page = 0x90000
pages = 4
range_id = 0
`

const daemonTemplate = `id = "tdispd"
device_config_path = "device.toml"
transport_network = "tcp"
transport_addr = "127.0.0.1:7300"
transport_security_mode = "development"
transport_tls_enabled = false
transport_tls_mutual = false
transport_tls_cert_file = ""
transport_tls_key_file = ""
transport_tls_ca_file = ""
admin_listen_addr = "127.0.0.1:7310"
admin_token = ""
cors_origins = ["http://localhost:3000"]
shutdown_timeout = "5s"
`
