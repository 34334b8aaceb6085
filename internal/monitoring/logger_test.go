package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetLogger_RedirectsAndMutes(t *testing.T) {
	defer SetLogger(log.Printf)

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})
	Logf("[vo] level %d", 2)
	if len(got) != 1 || got[0] != "[vo] level 2" {
		t.Fatalf("captured %v", got)
	}

	SetLogger(nil)
	Logf("dropped")
	if len(got) != 1 {
		t.Errorf("nil logger should mute output, captured %v", got)
	}
}

func TestTracef_Gated(t *testing.T) {
	defer SetLogger(log.Printf)
	defer SetTrace(false)

	var n int
	SetLogger(func(string, ...interface{}) { n++ })

	SetTrace(false)
	Tracef("iteration %d", 1)
	if n != 0 {
		t.Errorf("trace disabled but logged %d lines", n)
	}

	SetTrace(true)
	if !TraceEnabled() {
		t.Fatal("TraceEnabled() = false after SetTrace(true)")
	}
	Tracef("iteration %d", 2)
	if n != 1 {
		t.Errorf("trace enabled, logged %d lines, want 1", n)
	}
}

func TestZerologLogf_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	logf := ZerologLogf(zerolog.New(&buf))

	logf("[tracker] frame %d: %s", 3, "converged")
	logf("no tag here")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var first, second map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode %q: %v", lines[0], err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("decode %q: %v", lines[1], err)
	}
	if first["component"] != "tracker" || first["message"] != "frame 3: converged" || first["level"] != "info" {
		t.Errorf("first line = %v", first)
	}
	if _, ok := second["component"]; ok || second["message"] != "no tag here" {
		t.Errorf("second line = %v", second)
	}
}
