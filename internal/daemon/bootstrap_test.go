package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetachedCommand(t *testing.T) {
	cmd := detachedCommand("/usr/local/bin/appguard", "run", "--mode", "poll")

	assert.Equal(t, "/usr/local/bin/appguard", cmd.Path)
	assert.Equal(t, []string{"/usr/local/bin/appguard", "run", "--mode", "poll"}, cmd.Args)
	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setsid, "monitor must run in its own session")
	assert.Nil(t, cmd.Stdin)
	assert.Nil(t, cmd.Stdout)
	assert.Nil(t, cmd.Stderr)
}
