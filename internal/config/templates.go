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
	case "service":
		return serviceTemplate, nil
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

const deviceTemplate = `model = "bittle"
joints = 16
disabled_joints = [1, 2, 3, 4, 5, 6, 7]
baud_rate = 115200

gait_row_width = 8
posture_row_width = 16
behavior_row_width = 20
scaled_slots = 16

[rules]
spurious = ["cu.SLAB_USBtoUART", "ttyAMA0"]

[[rules.aliases]]
marker = "modem"
must_not_contain = "modem"

[[rules.aliases]]
marker = "serial-"
must_contain = "wch"
`

const serviceTemplate = `device_config = "device.toml"
ports = []
validate = true
replug_on_empty = true
heartbeat_interval = "10s"
time_unit = "1s"
control_addr = "127.0.0.1:9400"
control_token = ""
cors_origins = ["http://localhost:3000"]
console = true
`
