package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "json")
	SetLevel(INFO)
	t.Cleanup(func() {
		Configure(os.Stdout, "console")
		SetLevel(INFO)
	})

	InfoCF("agent", "turn completed", map[string]any{"user_id": "u1", "tokens": 12})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "agent", entry["component"])
	assert.Equal(t, "turn completed", entry["message"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.EqualValues(t, 12, entry["tokens"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Configure(&buf, "json")
	SetLevel(WARN)
	t.Cleanup(func() {
		Configure(os.Stdout, "console")
		SetLevel(INFO)
	})

	DebugC("store", "hidden debug")
	InfoC("store", "hidden info")
	WarnC("store", "visible warn")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(out), "\n")+1)
	assert.Contains(t, out, "visible warn")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("DEBUG"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel(" error "))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
}
