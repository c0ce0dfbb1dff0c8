package embeddings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrepare(t *testing.T) {
	out, cut := prepare([]string{
		"  Demo booking:\n\tCalendly Trigger,   Google Calendar ",
		"Reunión agendada",
		"",
	}, 0)
	assert.Equal(t, []string{"Demo booking: Calendly Trigger, Google Calendar", "Reunión agendada", ""}, out)
	assert.Zero(t, cut)

	out, cut = prepare([]string{"Reunión agendada con cliente", "ok"}, 7)
	assert.Equal(t, []string{"Reunión", "ok"}, out, "cut counts runes, not bytes")
	assert.Equal(t, 1, cut)
}

func TestWithPrefix(t *testing.T) {
	texts := []string{"ticket closed"}
	assert.Equal(t, texts, withPrefix("", texts))
	assert.Equal(t, []string{"query: ticket closed"}, withPrefix("query: ", texts))
	assert.Equal(t, []string{"ticket closed"}, texts)
}

func TestFastEmbedCacheDir(t *testing.T) {
	assert.Equal(t, "/var/lib/outcomed/models", fastEmbedCacheDir("/var/lib/outcomed/models"))

	cache := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cache)
	assert.Equal(t, filepath.Join(cache, "outcomed", "fastembed"), fastEmbedCacheDir(""))
}
