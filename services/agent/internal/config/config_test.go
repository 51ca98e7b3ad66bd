package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sample = `
device_id: D1
device_name: finance-laptop
hub_url: http://hub.local:5000
internal_token: secret
file_monitor:
  enabled: true
  paths:
    - /data
    - /srv/share
network_monitor:
  enabled: true
  command: ["/opt/ids/net_mon.bin", "-i", "eth0"]
delivery:
  max_attempts: 5
  backoff:
    initial: 200ms
queue:
  capacity: 1000
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DeviceID != "D1" || cfg.DeviceName != "finance-laptop" {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if len(cfg.FileMonitor.Paths) != 2 || cfg.FileMonitor.Paths[1] != "/srv/share" {
		t.Fatalf("unexpected paths: %v", cfg.FileMonitor.Paths)
	}
	if len(cfg.NetworkMonitor.Command) != 3 {
		t.Fatalf("unexpected probe command: %v", cfg.NetworkMonitor.Command)
	}
	if cfg.Delivery.MaxAttempts != 5 || cfg.Delivery.Backoff.Initial != 200*time.Millisecond {
		t.Fatalf("unexpected delivery config: %+v", cfg.Delivery)
	}
	if cfg.Delivery.Backoff.Max != time.Minute || cfg.Delivery.Timeout != 10*time.Second {
		t.Fatalf("defaults not applied: %+v", cfg.Delivery)
	}
	if cfg.Queue.Capacity != 1000 || !cfg.Recovery.Enabled {
		t.Fatalf("unexpected queue/recovery: %+v %+v", cfg.Queue, cfg.Recovery)
	}
	if cfg.Registered() {
		t.Fatalf("expected unregistered device")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("IDS_AGENT_HUB_URL", "https://hub.example:8443")
	t.Setenv("IDS_AGENT_DELIVERY_MAX_ATTEMPTS", "9")

	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HubURL != "https://hub.example:8443" {
		t.Fatalf("env override ignored: %q", cfg.HubURL)
	}
	if cfg.Delivery.MaxAttempts != 9 {
		t.Fatalf("nested env override ignored: %d", cfg.Delivery.MaxAttempts)
	}
}

func TestEnvOverrideForKeysAbsentFromFile(t *testing.T) {
	t.Setenv("IDS_AGENT_API_KEY", "from-env")
	t.Setenv("IDS_AGENT_INTERNAL_TOKEN", "tok-env")
	t.Setenv("IDS_AGENT_DEVICE_ID", "D-env")

	cfg, err := Load(writeConfig(t, "hub_url: http://hub.local:5000\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "from-env" || !cfg.Registered() {
		t.Fatalf("api_key env override ignored: %q", cfg.APIKey)
	}
	if cfg.InternalToken != "tok-env" {
		t.Fatalf("internal_token env override ignored: %q", cfg.InternalToken)
	}
	if cfg.DeviceID != "D-env" || cfg.DeviceName != "D-env" {
		t.Fatalf("device_id env override ignored: %q / %q", cfg.DeviceID, cfg.DeviceName)
	}
}

func TestValidateRejectsBadHubURL(t *testing.T) {
	if _, err := Load(writeConfig(t, "device_id: D1\nhub_url: hub.local\n")); err == nil {
		t.Fatalf("expected invalid hub_url to fail")
	}
}

func TestSaveAPIKeyAndReload(t *testing.T) {
	path := writeConfig(t, sample)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := SaveAPIKey(path, "a2V5"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if cfg.APIKey != "" {
		t.Fatalf("loaded value must not change after the file does")
	}

	reloaded, err := cfg.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.APIKey != "a2V5" || !reloaded.Registered() {
		t.Fatalf("api key not persisted: %+v", reloaded)
	}
	if reloaded.DeviceID != "D1" || len(reloaded.FileMonitor.Paths) != 2 {
		t.Fatalf("other settings lost on write-back: %+v", reloaded)
	}

	changed := Diff(cfg, reloaded)
	if len(changed) != 1 || changed[0] != "api_key" {
		t.Fatalf("expected only api_key to differ, got %v", changed)
	}
}
