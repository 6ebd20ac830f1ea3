package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	prod := newLogger(&buf, "prod")
	prod.Debug().Msg("скрыто")
	if buf.Len() != 0 {
		t.Fatalf("debug не должен попадать в лог вне dev")
	}

	dev := Component(newLogger(&buf, "dev"), "summary")
	dev.Debug().Msg("видно")
	out := buf.String()
	if !strings.Contains(out, `"component":"summary"`) || !strings.Contains(out, "видно") {
		t.Fatalf("ожидали debug-запись с компонентом, получили %q", out)
	}
}
