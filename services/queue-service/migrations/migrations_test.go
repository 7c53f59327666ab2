package migrations

import (
	"strings"
	"testing"
)

func TestScriptsEmbedded(t *testing.T) {
	scripts, err := Scripts()
	if err != nil {
		t.Fatalf("Scripts: %v", err)
	}
	if len(scripts) == 0 || !strings.Contains(scripts[0], "CREATE TABLE IF NOT EXISTS appointments") {
		t.Fatalf("expected the appointments schema first, got %d scripts", len(scripts))
	}
}
