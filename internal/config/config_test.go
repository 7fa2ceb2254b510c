package config

import (
	"bytes"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		check   func(t *testing.T, c Config)
		wantErr string
	}{
		{
			name: "toml overrides",
			file: "config.toml",
			content: `
[engine]
timeout_ms = 2500
retries = 5

[serial]
baud_rates = [115200]
exclude = ["COM1"]
blocked_usb = ["2341:0043"]

[network]
devices = ["192.168.1.20:27000"]

[cache]
path = "/tmp/devices.db"
`,
			check: func(t *testing.T, c Config) {
				if c.Engine.Timeout() != 2500*time.Millisecond || c.Engine.Retries != 5 {
					t.Errorf("engine = %+v", c.Engine)
				}
				if c.Engine.RetryDelayMS != 100 {
					t.Errorf("retry delay lost its default: %d", c.Engine.RetryDelayMS)
				}
				if !reflect.DeepEqual(c.Serial.BaudRates, []int{115200}) {
					t.Errorf("baud rates = %v", c.Serial.BaudRates)
				}
				if c.Network.Devices[0] != "192.168.1.20:27000" || c.Cache.Path != "/tmp/devices.db" {
					t.Errorf("network/cache = %+v %+v", c.Network, c.Cache)
				}
			},
		},
		{
			name: "yaml overrides",
			file: "config.yml",
			content: `
serial:
  poll_interval_ms: 50
  boot_settle_ms: 250
`,
			check: func(t *testing.T, c Config) {
				if c.Serial.PollInterval() != 50*time.Millisecond || c.Serial.BootSettle() != 250*time.Millisecond {
					t.Errorf("serial = %+v", c.Serial)
				}
				if len(c.Serial.BaudRates) != 3 {
					t.Errorf("baud rates lost their default: %v", c.Serial.BaudRates)
				}
			},
		},
		{name: "unknown extension", file: "config.json", content: "{}", wantErr: "unsupported format"},
		{name: "bad toml", file: "config.toml", content: "[engine\n", wantErr: "parse config"},
		{name: "zero retries", file: "config.toml", content: "[engine]\nretries = 0\n", wantErr: "retries"},
		{name: "bad usb id", file: "config.yaml", content: "serial:\n  blocked_usb: [\"2341\"]\n", wantErr: "VID:PID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Load(writeFile(t, tt.file, tt.content))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			tt.check(t, c)
		})
	}
}

func TestLoadEmptyPathIsDefault(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(c, Default()) {
		t.Errorf("Load(\"\") = %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	data, err := Default().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte("timeout_ms = 1000")) {
		t.Errorf("marshaled config:\n%s", data)
	}
	c, err := Load(writeFile(t, "config.toml", string(data)))
	if err != nil {
		t.Fatal(err)
	}
	if c.Engine != Default().Engine || !reflect.DeepEqual(c.Serial.BaudRates, Default().Serial.BaudRates) {
		t.Errorf("reload = %+v", c)
	}
}

func TestSetupLogging(t *testing.T) {
	var buf bytes.Buffer
	SetupLogging(false, &buf)
	Debugf("hidden %d", 1)
	Log.Info().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"message":"shown"`) {
		t.Errorf("quiet output = %s", buf.String())
	}

	buf.Reset()
	SetupLogging(true, &buf)
	Debugf("visible %d", 2)
	if !strings.Contains(buf.String(), "visible 2") || !Verbose {
		t.Errorf("verbose output = %s", buf.String())
	}
	t.Cleanup(func() { Verbose = false })
}
