package shoescmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestVersionCommandPrintsVersion(t *testing.T) {
	root := NewRootCommand(zap.NewNop())
	root.SetArgs([]string{"version"})

	var out bytes.Buffer
	root.SetOut(&out)

	assert.NoError(t, root.Execute())
	assert.Equal(t, version+"\n", out.String())
}

func TestRunCommandRequiresConfig(t *testing.T) {
	root := NewRootCommand(zap.NewNop())
	root.SetArgs([]string{"run", "--config", "/nonexistent/shoes.toml"})

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)

	assert.Error(t, root.Execute())
}
