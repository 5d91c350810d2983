package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kpaschen/disttsvd/lib/settings"
)

func TestVerbosityGate(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	defer SetVerbosity(settings.LEVEL_INFO)

	SetVerbosity(settings.LEVEL_WARN)
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("info message should have been suppressed at warn level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown 2") {
		t.Errorf("warn message should have been logged: %q", buf.String())
	}

	buf.Reset()
	SetVerbosity(settings.LEVEL_OFF)
	Errorf("nothing")
	if buf.Len() != 0 {
		t.Errorf("expected no output at level off but got %q", buf.String())
	}
}

func TestLevel(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	quiet := Level(settings.LEVEL_OFF)
	loud := Level(settings.LEVEL_DEBUG)
	quiet.Infof("quiet %d", 1)
	loud.Debugf("loud %d", 2)
	if strings.Contains(buf.String(), "quiet") {
		t.Errorf("level off should not log: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "loud 2") {
		t.Errorf("debug level should log debug messages: %q", buf.String())
	}
	if Verbosity() != settings.LEVEL_INFO {
		t.Errorf("a Level must not change the process verbosity but it is %d", Verbosity())
	}
}

func TestConfigureOutput(t *testing.T) {
	if ConfigureOutput("", 0, 0) != nil {
		t.Errorf("expected no closer for an empty path")
	}
	tempdir, err := os.MkdirTemp("", "disttsvdTest")
	if err != nil {
		t.Fatalf("failed to create temp dir")
	}
	defer os.RemoveAll(tempdir)
	defer log.SetOutput(os.Stderr)

	path := filepath.Join(tempdir, "tsvd.log")
	closer := ConfigureOutput(path, 1, 1)
	log.Printf("written to file")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file at %s: %v", path, err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Errorf("unexpected log file content %q", string(data))
	}
}
