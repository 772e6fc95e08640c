package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/admissions-portal/portal/cmd/portalctl/cli"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

// passwordResetter changes account passwords.
type passwordResetter interface {
	ResetPassword(ctx context.Context, email, password string) error
}

type commandLine struct {
	out   io.Writer
	users passwordResetter
	jobs  *cli.JobsCLI
}

func (c *commandLine) printUsage() {
	fmt.Fprintln(c.out, "Usage:")
	fmt.Fprintln(c.out, "  resetpassword -email EMAIL     reset a user's password (prompted)")
	fmt.Fprintln(c.out, "  jobs trigger -task TASK        enqueue a job now (dues:remind)")
	fmt.Fprintln(c.out, "  jobs stats                     show default queue counters")
	fmt.Fprintln(c.out, "  jobs scheduled [-size N]       list scheduled tasks")
}

func (c *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		c.printUsage()
		return errHelp
	}

	switch args[1] {
	case "resetpassword":
		fs := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
		fs.SetOutput(c.out)
		email := fs.String("email", "", "The account email. The password will be prompted next.")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		if *email == "" {
			fs.Usage()
			return errHelp
		}
		fmt.Fprint(c.out, "Enter password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(c.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			fs.Usage()
			return errHelp
		}
		if err := c.users.ResetPassword(ctx, *email, string(pwd)); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "password updated")
		return nil
	case "jobs":
		return c.runJobs(ctx, args[2:])
	default:
		c.printUsage()
		return errHelp
	}
}

func (c *commandLine) runJobs(ctx context.Context, args []string) error {
	if len(args) == 0 {
		c.printUsage()
		return errHelp
	}
	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		fs.SetOutput(c.out)
		task := fs.String("task", "", "Task type to enqueue.")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		info, err := c.jobs.Trigger(ctx, *task)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return nil
	case "stats":
		stats, err := c.jobs.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		return nil
	case "scheduled":
		fs := flag.NewFlagSet("scheduled", flag.ContinueOnError)
		fs.SetOutput(c.out)
		size := fs.Int("size", 10, "Number of tasks to list.")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		tasks, err := c.jobs.ListScheduled(ctx, *size)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Fprintf(c.out, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format("2006-01-02 15:04"))
		}
		return nil
	default:
		c.printUsage()
		return errHelp
	}
}
