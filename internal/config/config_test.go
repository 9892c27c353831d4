package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/danmuck/bittyctl/internal/testutil/testlog"
)

func TestParseDeviceConfigAppliesDefaults(t *testing.T) {
	testlog.Start(t)
	cfg, err := ParseDeviceConfig([]byte(`model = "nybble"
disabled_joints = [3, 1]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	p := cfg.Profile()
	if p.Model != "nybble" || p.Joints != 16 || p.BaudRate != 115200 {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if !reflect.DeepEqual(p.DisabledJoints, []int{1, 3}) || p.Enabled(3) {
		t.Fatalf("disabled joints not applied: %v", p.DisabledJoints)
	}
	rules := cfg.RuleTable()
	if len(rules.Aliases) != 2 || rules.Aliases[1].AliasMustContain != "wch" {
		t.Fatalf("default rules not applied: %+v", rules)
	}
}

func TestParseDeviceConfigCustomRules(t *testing.T) {
	testlog.Start(t)
	cfg, err := ParseDeviceConfig([]byte(`[rules]
spurious = ["ttyS"]

[[rules.aliases]]
marker = "usb-"
must_not_contain = "usb-"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := cfg.RuleTable().Canonicalize([]string{"/dev/ttyS0", "/dev/usb-A1", "/dev/cu.A1"})
	if !reflect.DeepEqual(got, []string{"/dev/usb-A1"}) {
		t.Fatalf("custom rules not honored: %v", got)
	}
}

func TestParseDeviceConfigRejectsInvalid(t *testing.T) {
	testlog.Start(t)
	cases := []string{
		"joints = 200\n",
		"disabled_joints = [16]\n",
		"[[rules.aliases]]\nmust_contain = \"x\"\n",
		"[[rules.aliases]]\nmarker = \"modem\"\n",
	}
	for _, raw := range cases {
		if _, err := ParseDeviceConfig([]byte(raw)); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig for %q, got %v", raw, err)
		}
	}
	if _, err := ParseDeviceConfig([]byte("joints = \"many\"\n")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDeviceTemplateRoundTrip(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "device.toml")
	if err := WriteTemplate(path, "device", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, "device", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	cfg, err := LoadDeviceConfig(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if cfg.Profile().Enabled(2) || !cfg.Profile().Enabled(8) {
		t.Fatalf("template disabled joints not applied: %+v", cfg.DisabledJoints)
	}
	if _, err := Template("ghost"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
	if _, err := LoadDeviceConfig(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
