package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zsiec/sounds-relay/internal/adts"
	"github.com/zsiec/sounds-relay/internal/config"
	"github.com/zsiec/sounds-relay/internal/mpegts/mpegtstest"
)

func runCLI(t *testing.T, stdin []byte, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(bytes.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func testFrames() [][]byte {
	return [][]byte{
		mpegtstest.ADTSFrame(bytes.Repeat([]byte{1}, 200)),
		mpegtstest.ADTSFrame(bytes.Repeat([]byte{2}, 150)),
		mpegtstest.ADTSFrame(bytes.Repeat([]byte{3}, 300)),
	}
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	out, _, err := runCLI(t, nil, "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "sounds-relay dev\n" {
		t.Errorf("output = %q", out)
	}
}

func TestConfigCommand(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := os.WriteFile(path, []byte("base_url = \"https://relay.example\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, nil, "--config", path, "config")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"https://relay.example", "[storage]", "[upstream]"} {
		if !strings.Contains(out, want) {
			t.Errorf("config output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigCommandRejectsUnknownKey(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := os.WriteFile(path, []byte("no_such_key = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := runCLI(t, nil, "--config", path, "config"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestExtractCommand(t *testing.T) {
	t.Parallel()
	frames := testFrames()
	ts := mpegtstest.AudioStream(frames...)
	want := bytes.Join(frames, nil)

	t.Run("file to file", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		in := filepath.Join(dir, "in.ts")
		out := filepath.Join(dir, "out.aac")
		if err := os.WriteFile(in, ts, 0o644); err != nil {
			t.Fatal(err)
		}
		if _, _, err := runCLI(t, nil, "extract", in, "-o", out); err != nil {
			t.Fatal(err)
		}
		got, err := os.ReadFile(out)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("extracted %d bytes, want %d", len(got), len(want))
		}
	})

	t.Run("stdin to stdout", func(t *testing.T) {
		t.Parallel()
		got, _, err := runCLI(t, ts, "extract")
		if err != nil {
			t.Fatal(err)
		}
		if got != string(want) {
			t.Errorf("extracted %d bytes, want %d", len(got), len(want))
		}
	})

	t.Run("no audio", func(t *testing.T) {
		t.Parallel()
		if _, _, err := runCLI(t, bytes.Repeat([]byte{0xFF}, 10), "extract"); err == nil {
			t.Fatal("expected error for input without audio")
		}
	})
}

func TestInspectCommand(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "episode.aac")
	if err := os.WriteFile(path, bytes.Join(testFrames(), nil), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, nil, "inspect", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Frames", "44100 Hz", "Channels"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}

	out, _, err = runCLI(t, nil, "inspect", "--json", path)
	if err != nil {
		t.Fatal(err)
	}
	var sum adts.Summary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if sum.Frames != 3 || sum.SampleRate != 44100 || sum.Channels != 2 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log, err := newLogger(&buf, config.Logging{Level: "warn", Format: "auto"})
	if err != nil {
		t.Fatal(err)
	}
	log.Warn("hello", "k", "v")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("non-terminal output is not JSON: %q", buf.String())
	}

	buf.Reset()
	log, err = newLogger(&buf, config.Logging{Level: "info", Format: "text"})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text output = %q", buf.String())
	}

	if _, err := newLogger(&buf, config.Logging{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
