package statsd

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanPrefix(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"  fileflow.core  ": "fileflow.core",
		"..edge..":          "edge",
		".":                 "",
		"":                  "",
	}
	for input, want := range tests {
		assert.Equal(t, want, cleanPrefix(input), "cleanPrefix(%q)", input)
	}
}

func TestCleanName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" outbox/sweep ":     "outbox_sweep",
		"reaper..batch":      "reaper.batch",
		"two  spaces":        "two__spaces",
		"a/b/c":              "a_b_c",
		".leading.trailing.": "leading.trailing",
	}
	for input, want := range tests {
		assert.Equal(t, want, cleanName(input), "cleanName(%q)", input)
	}
}

func TestWriteTagsMergesAndSorts(t *testing.T) {
	t.Parallel()

	global := map[string]string{"env": "prod", "service": "fileflow"}
	local := map[string]string{
		"result": " success ",
		"":       "dropped",
		"env":    "stage", // local wins
	}

	var line strings.Builder
	writeTags(&line, global, local)
	assert.Equal(t, "|#env:stage,result:success,service:fileflow", line.String())
}

func TestWriteTagsEmpty(t *testing.T) {
	t.Parallel()

	var line strings.Builder
	writeTags(&line, nil, nil)
	assert.Empty(t, line.String())
}

func TestCleanTagsCopiesAndFilters(t *testing.T) {
	t.Parallel()

	original := map[string]string{"env": "prod", "": "dropped", " pad ": " v "}
	cleaned := cleanTags(original)

	cleaned["env"] = "stage"
	assert.Equal(t, "prod", original["env"])
	assert.Equal(t, "v", cleaned["pad"])
	_, kept := cleaned[""]
	assert.False(t, kept)
}

func TestQualify(t *testing.T) {
	t.Parallel()

	withPrefix := &Client{prefix: "fileflow"}
	assert.Equal(t, "fileflow.outbox.sweep", withPrefix.qualify("outbox.sweep"))
	assert.Equal(t, "", withPrefix.qualify(""))
	assert.Equal(t, "fileflow", withPrefix.qualify("..."))

	bare := &Client{}
	assert.Equal(t, "outbox.sweep", bare.qualify("outbox.sweep"))
}

func TestClientEnabledAndClose(t *testing.T) {
	t.Parallel()

	clientConn, peerConn := net.Pipe()
	defer peerConn.Close()

	client := &Client{conn: clientConn}
	assert.True(t, client.Enabled())

	require.NoError(t, client.Close())
	assert.False(t, client.Enabled())

	// Closing again is a no-op.
	require.NoError(t, client.Close())

	var nilClient *Client
	assert.False(t, nilClient.Enabled())
	assert.NoError(t, nilClient.Close())
}

func TestNewClientDisabledWithoutAddress(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{Enabled: true, Address: "   "})
	require.NoError(t, err)
	assert.False(t, client.Enabled())

	// Disabled clients swallow emits without panicking.
	client.Count("outbox.published", 1, nil)
}

func TestNewClientDialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Enabled: true, Address: "bad address"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statsd dial")
}
