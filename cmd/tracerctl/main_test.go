package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"exposure-tracer/internal/infra"
)

const (
	vectorTEK   = "4c22bda759942e0758e47922ed4d6c3e"
	vectorRPI   = "f603d5f00d002e8eba6cd65090e530ec"
	vectorAEM   = "29fbe29e"
	vectorFrame = "02011a03036ffd17166ffdf603d5f00d002e8eba6cd65090e530ec29fbe29e"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("TRACER_DATA_DIR", t.TempDir())
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("KMS_KEY_NAME", "")
	t.Setenv("AGE_IDENTITY", "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDeriveCmd(t *testing.T) {
	out, err := runCLI(t, "derive", "--tek", vectorTEK, "--enin", "0", "--tx-power", "5", "--output", "json")
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}

	var res deriveResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to decode output %q: %v", out, err)
	}
	want := deriveResult{
		TEK:      vectorTEK,
		RPIK:     "1ab8a1141ecd1a6ee9f6a33b7296322a",
		AEMK:     "e47c05afa4c51eeb286344f1aa634111",
		RPI:      vectorRPI,
		Metadata: "40050000",
		AEM:      vectorAEM,
		Frame:    vectorFrame,
	}
	if res != want {
		t.Errorf("want %+v, got %+v", want, res)
	}
}

func TestDeriveCmd_InvalidTEK(t *testing.T) {
	if _, err := runCLI(t, "derive", "--tek", "abcd"); err == nil {
		t.Error("expected error for short TEK")
	}
}

func TestParseCmd(t *testing.T) {
	out, err := runCLI(t, "parse", vectorFrame)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !strings.Contains(out, "RPI "+vectorRPI) || !strings.Contains(out, "AEM "+vectorAEM) {
		t.Errorf("unexpected output %q", out)
	}

	if _, err := runCLI(t, "parse", "020106"); err == nil {
		t.Error("expected error for frame without service data")
	}
}

func TestVerifyCmd(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"frame", []string{"--frame", vectorFrame}, "match enin=0 version=1.0 tx_power=5"},
		{"pair", []string{"--rpi", vectorRPI, "--aem", vectorAEM}, "match enin=0"},
		{"other key", []string{"--frame", vectorFrame, "--tek", "00000000000000000000000000000000"}, "no match"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"verify", "--tek", vectorTEK}, tt.args...)
			out, err := runCLI(t, args...)
			if err != nil {
				t.Fatalf("verify failed: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("want %q in output, got %q", tt.want, out)
			}
		})
	}
}

func TestVerifyCmd_RequiresObservation(t *testing.T) {
	if _, err := runCLI(t, "verify", "--tek", vectorTEK); err == nil {
		t.Error("expected error without --frame or --rpi/--aem")
	}
}

func TestMigrateCmd(t *testing.T) {
	out, err := runCLI(t, "migrate", "up")
	if err != nil {
		t.Fatalf("migrate up failed: %v", err)
	}
	if !strings.Contains(out, "Applied 3 migration(s)") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if strings.TrimSpace(out) != "tracerctl version "+infra.Version {
		t.Errorf("unexpected output %q", out)
	}
}
