package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/srg/gattd/internal/testutils"
)

// CommandTestSuite extends PeripheralSuite with command testing utilities.
type CommandTestSuite struct {
	testutils.PeripheralSuite
}

// ExecuteCommand runs a cobra command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// WriteConfig writes a YAML config into a temp dir and returns its path.
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	path := filepath.Join(s.T().TempDir(), "gattd.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0o600), "config MUST be written")
	return path
}
