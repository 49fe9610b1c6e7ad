package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/bootstrap"
)

// Opener builds the application a command runs against
type Opener func(ctx context.Context) (*bootstrap.App, error)

// Command represents a CLI command. A command either runs or dispatches to
// its subcommands.
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command
	out         io.Writer
}

// NewRootCommand creates the gatehouse command tree writing to out
func NewRootCommand(open Opener, out io.Writer) *Command {
	r := &runner{open: open, out: out}

	root := group("gatehouse", "gatehouse - portal access-control administration", out,
		newMigrateCommand(r),
		newCheckCommand(r),
		newAccessibleCommand(r),
		newRuleCommand(r),
		newGroupCommand(r),
		newProjectCommand(r),
		newFolderCommand(r),
		newDocumentCommand(r),
		newAuditCommand(r),
	)
	return root
}

// Execute runs the command for args, which exclude the program name
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(c.Subcommands) == 0 {
		return c.Run(ctx, args)
	}

	if len(args) == 0 || isHelp(args[0]) {
		return c.usage()
	}
	if sub, ok := c.Subcommands[args[0]]; ok {
		return sub.Execute(ctx, args[1:])
	}
	return fmt.Errorf("unknown command: %s", strings.TrimSpace(c.path()+" "+args[0]))
}

// usage prints the command usage
func (c *Command) usage() error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(c.out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(c.out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(c.out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func (c *Command) path() string {
	if c.Name == "gatehouse" {
		return ""
	}
	return c.Name
}

func group(name, description string, out io.Writer, subs ...*Command) *Command {
	cmd := &Command{
		Name:        name,
		Description: description,
		Subcommands: make(map[string]*Command, len(subs)),
		out:         out,
	}
	for _, sub := range subs {
		sub.out = out
		cmd.Subcommands[sub.Name] = sub
	}
	return cmd
}

func isHelp(arg string) bool {
	switch strings.ToLower(arg) {
	case "-h", "--help", "help":
		return true
	}
	return false
}

// runner carries what every command needs
type runner struct {
	open Opener
	out  io.Writer
}

func (r *runner) withApp(ctx context.Context, fn func(app *bootstrap.App) error) error {
	app, err := r.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func (r *runner) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(r.out)
	return fs
}

func (r *runner) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}

// requireFlags fails when any of the named flags is empty
func requireFlags(fs *flag.FlagSet, names ...string) error {
	var missing []string
	for _, name := range names {
		if f := fs.Lookup(name); f == nil || f.Value.String() == "" {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: missing required flags %s", fs.Name(), strings.Join(missing, ", "))
	}
	return nil
}

// optional maps an empty flag value to nil
func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// splitList parses a comma-separated flag value
func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
