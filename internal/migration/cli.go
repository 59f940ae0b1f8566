package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
)

// =============================================================================
// 💻 migrate 子命令
// =============================================================================

// command 一个子命令，takesArg 为 true 时需要一个整数参数
type command struct {
	name     string
	arg      string
	help     string
	takesArg bool
	run      func(c *CLI, ctx context.Context, n int) error
}

var commands = []command{
	{name: "up", help: "Apply all pending migrations", run: (*CLI).up},
	{name: "down", help: "Roll back the last migration", run: (*CLI).down},
	{name: "down-all", help: "Roll back every migration", run: (*CLI).downAll},
	{name: "steps", arg: "<n>", help: "Apply (n > 0) or roll back (n < 0) n migrations", takesArg: true, run: (*CLI).steps},
	{name: "goto", arg: "<v>", help: "Migrate up or down to version v", takesArg: true, run: (*CLI).gotoVersion},
	{name: "force", arg: "<v>", help: "Set the version without running SQL (clears dirty)", takesArg: true, run: (*CLI).force},
	{name: "version", help: "Print the current version", run: (*CLI).version},
	{name: "status", help: "List every migration and whether it is applied", run: (*CLI).status},
	{name: "info", help: "Print a migration summary", run: (*CLI).info},
}

func lookup(name string) (command, bool) {
	for _, cmd := range commands {
		if cmd.name == name {
			return cmd, true
		}
	}
	return command{}, false
}

// TakesArg 子命令是否需要一个位置参数
func TakesArg(name string) bool {
	cmd, ok := lookup(name)
	return ok && cmd.takesArg
}

// WriteUsage 输出子命令列表
func WriteUsage(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, cmd := range commands {
		fmt.Fprintf(tw, "  %s %s\t%s\n", cmd.name, cmd.arg, cmd.help)
	}
	_ = tw.Flush()
}

// CLI 把迁移操作的结果输出到终端
type CLI struct {
	migrator Migrator
	out      io.Writer
}

// NewCLI 创建 CLI，out 为 nil 时输出到 stdout
func NewCLI(m Migrator, out io.Writer) *CLI {
	if out == nil {
		out = os.Stdout
	}
	return &CLI{migrator: m, out: out}
}

// Execute 执行名为 name 的子命令
func (c *CLI) Execute(ctx context.Context, name string, args []string) error {
	cmd, ok := lookup(name)
	if !ok {
		return fmt.Errorf("unknown migrate command %q", name)
	}

	var n int
	if cmd.takesArg {
		if len(args) != 1 {
			return fmt.Errorf("%s requires exactly one numeric argument", name)
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%s: invalid argument %q: %w", name, args[0], err)
		}
		n = v
	} else if len(args) > 0 {
		return fmt.Errorf("%s takes no arguments", name)
	}
	return cmd.run(c, ctx, n)
}

func (c *CLI) up(ctx context.Context, _ int) error {
	if err := c.migrator.Up(ctx); err != nil {
		return err
	}
	return c.printVersion(ctx, "up to date")
}

func (c *CLI) down(ctx context.Context, _ int) error {
	if err := c.migrator.Down(ctx); err != nil {
		return err
	}
	return c.printVersion(ctx, "rolled back")
}

func (c *CLI) downAll(ctx context.Context, _ int) error {
	if err := c.migrator.DownAll(ctx); err != nil {
		return err
	}
	return c.printVersion(ctx, "rolled back")
}

func (c *CLI) steps(ctx context.Context, n int) error {
	if n == 0 {
		return fmt.Errorf("steps: n must not be 0")
	}
	if err := c.migrator.Steps(ctx, n); err != nil {
		return err
	}
	return c.printVersion(ctx, "moved "+strconv.Itoa(n)+" step(s)")
}

func (c *CLI) gotoVersion(ctx context.Context, v int) error {
	if v < 0 {
		return fmt.Errorf("goto: version must be non-negative")
	}
	if err := c.migrator.Goto(ctx, uint(v)); err != nil {
		return err
	}
	return c.printVersion(ctx, "migrated")
}

func (c *CLI) force(ctx context.Context, v int) error {
	// golang-migrate 用 -1 表示没有版本
	if v < -1 {
		return fmt.Errorf("force: version must be >= -1")
	}
	if err := c.migrator.Force(ctx, v); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "forced: version %d\n", v)
	return nil
}

func (c *CLI) version(ctx context.Context, _ int) error {
	return c.printVersion(ctx, "current")
}

func (c *CLI) status(ctx context.Context, _ int) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "no migrations embedded")
		return nil
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
	for _, st := range statuses {
		state := "pending"
		switch {
		case st.Dirty:
			state = "dirty"
		case st.Applied:
			state = "applied"
		}
		fmt.Fprintf(tw, "%06d\t%s\t%s\n", st.Version, st.Name, state)
	}
	return tw.Flush()
}

func (c *CLI) info(ctx context.Context, _ int) error {
	sum, err := c.migrator.Summary(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "version:\t%d\n", sum.Version)
	fmt.Fprintf(tw, "dirty:\t%t\n", sum.Dirty)
	fmt.Fprintf(tw, "applied:\t%d/%d\n", sum.Applied, sum.Total)
	fmt.Fprintf(tw, "pending:\t%d\n", sum.Pending())
	return tw.Flush()
}

func (c *CLI) printVersion(ctx context.Context, label string) error {
	v, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	switch {
	case v == 0:
		fmt.Fprintf(c.out, "%s: no migrations applied\n", label)
	case dirty:
		fmt.Fprintf(c.out, "%s: version %d (dirty)\n", label, v)
	default:
		fmt.Fprintf(c.out, "%s: version %d\n", label, v)
	}
	return nil
}
