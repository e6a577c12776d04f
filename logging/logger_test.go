package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestClaimLogger_Lines(t *testing.T) {
	var buf bytes.Buffer
	l := NewClaimLoggerTo("replica-a", &buf)

	l.LogClaimLocal("1_2", "#00f2ff")
	l.LogClaimRemote("replica-b", "3_4", "#ff0055", 0)
	l.LogClaimDuplicate("replica-b", "3_4")
	l.LogPublishFailed("1_2", errors.New("boom"))
	l.LogEventMalformed(errors.New("missing cell_id"))
	l.LogPositionError("timeout", "Location request timed out")

	out := buf.String()
	for _, want := range []string{
		"[replica-a] ",
		"CLAIM_LOCAL: cell=1_2 color=#00f2ff",
		"CLAIM_REMOTE: origin=replica-b cell=3_4",
		"CLAIM_DUPLICATE: origin=replica-b cell=3_4",
		`PUBLISH_FAILED: cell=1_2 error="boom"`,
		`EVENT_MALFORMED: error="missing cell_id"`,
		"POSITION_ERROR: code=timeout",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Output missing %q:\n%s", want, out)
		}
	}
}

func TestClaimLogger_Dump(t *testing.T) {
	var buf bytes.Buffer
	l := NewClaimLoggerTo("r", &buf)

	l.Dump("config", struct{ HTTPPort int }{HTTPPort: 8080})

	if !strings.Contains(buf.String(), "HTTPPort: 8080") {
		t.Errorf("Dump should contain the field, got:\n%s", buf.String())
	}
}
