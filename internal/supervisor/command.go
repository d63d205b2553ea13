package supervisor

import (
	"fmt"
	"os/exec"
	"strings"
)

// Command describes a program to run. Args[0] is the program; a name
// without a slash is looked up in PATH. A nil Env inherits the environment
// of the current process.
type Command struct {
	Args []string
	Env  []string
	Dir  string
}

// Cmd builds a Command that inherits the current environment.
func Cmd(args ...string) Command {
	return Command{Args: args}
}

// Name returns the program as given, or "" for an empty command.
func (c Command) Name() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// path resolves the executable the way a shell would.
func (c Command) path() (string, error) {
	name := c.Name()
	if name == "" {
		return "", fmt.Errorf("empty command")
	}
	if strings.Contains(name, "/") {
		return name, nil
	}
	return exec.LookPath(name)
}
