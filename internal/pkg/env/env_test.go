package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv_PrefersLoadedMap(t *testing.T) {
	Env = map[string]string{"ARENA_TEST_KEY": "from-file"}
	t.Cleanup(func() { Env = nil })
	t.Setenv("ARENA_TEST_KEY", "from-os")

	assert.Equal(t, "from-file", GetEnv("ARENA_TEST_KEY", "def"))
	assert.Equal(t, "def", GetEnv("ARENA_TEST_MISSING", "def"))
}

func TestGetInt(t *testing.T) {
	Env = map[string]string{"A": "7", "B": "seven"}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 7, GetInt("A", 1))
	assert.Equal(t, 1, GetInt("B", 1))
	assert.Equal(t, 3, GetInt("C", 3))
}

func TestGetDuration(t *testing.T) {
	Env = map[string]string{"SECS": "90", "DUR": "2h", "BAD": "soon"}
	t.Cleanup(func() { Env = nil })

	assert.Equal(t, 90*time.Second, GetDuration("SECS", time.Minute))
	assert.Equal(t, 2*time.Hour, GetDuration("DUR", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("BAD", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("MISSING", time.Minute))
}
