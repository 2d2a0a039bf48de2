package spawn

import (
	"fmt"
	"sort"
	"strings"
)

// Command is a builder for a process to spawn: executable path, argument
// list, optional environment overrides and the three stdio routings, which
// default to Inherit. Builder methods mutate the receiver and return it for
// chaining; nothing is validated until Spawn.
type Command struct {
	path string
	args []string
	env  map[string]string

	stdin  Stdio
	stdout Stdio
	stderr Stdio
}

// New constructs a Command for the given executable path. The path is
// stored verbatim; resolution against PATH happens at spawn time.
func New(path string) *Command {
	return &Command{
		path:   path,
		stdin:  Inherit(),
		stdout: Inherit(),
		stderr: Inherit(),
	}
}

// Arg appends one argument. The path itself serves as argv[0]; arguments
// added here start at argv[1].
func (c *Command) Arg(arg string) *Command {
	c.args = append(c.args, arg)
	return c
}

// Args appends several arguments at once.
func (c *Command) Args(args ...string) *Command {
	c.args = append(c.args, args...)
	return c
}

// Env records an environment override installed into the child's
// environment at exec time. The parent's environment is never mutated;
// overriding a key the parent already exports replaces its value in the
// child only.
func (c *Command) Env(key, value string) *Command {
	if c.env == nil {
		c.env = make(map[string]string)
	}
	c.env[key] = value
	return c
}

// Stdin sets the routing for the child's standard input.
func (c *Command) Stdin(s Stdio) *Command {
	c.stdin = s
	return c
}

// Stdout sets the routing for the child's standard output.
func (c *Command) Stdout(s Stdio) *Command {
	c.stdout = s
	return c
}

// Stderr sets the routing for the child's standard error.
func (c *Command) Stderr(s Stdio) *Command {
	c.stderr = s
	return c
}

// Spawn creates the child process and returns a handle to it. On failure
// every descriptor owned by the three Stdio values has been closed exactly
// once and no child exists.
func (c *Command) Spawn() (*Child, error) {
	return c.exec(false)
}

// SpawnSupervised creates the child held at its exec boundary: the new
// program image is fully set up but has executed nothing when this
// returns. The child sits in a plain signal stop with no tracer attached,
// so a supervisor resumes it by sending SIGCONT to the returned pid.
// Everything else is identical to Spawn.
func (c *Command) SpawnSupervised() (*Child, error) {
	return c.exec(true)
}

func (c *Command) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%q", c.path)
	for _, arg := range c.args {
		fmt.Fprintf(&b, " %q", arg)
	}
	keys := make([]string, 0, len(c.env))
	for k := range c.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%q", k, c.env[k])
	}
	return b.String()
}
