package meter

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/zfstools/zfstools/internal/util/datasizeunit"
	"github.com/zfstools/zfstools/internal/zfs/zfscmd"
)

// SubcommandName is the name of the (hidden) subcommand of the zfstools binary that runs RunFilter.
const SubcommandName = "meter"

type Options struct {
	BufSize int
	// RateLimit in bytes per second, <= 0 means unlimited.
	RateLimit int64
	// Command replaces the default filter process. The placeholders {rate} and {bufsize}
	// are substituted in each argument.
	Command []string
	// Progress receives the filter's stderr.
	Progress io.Writer
}

func (o Options) argv() ([]string, error) {
	if len(o.Command) > 0 {
		r := strings.NewReplacer(
			"{rate}", strconv.FormatInt(o.RateLimit, 10),
			"{bufsize}", strconv.Itoa(o.BufSize),
		)
		argv := make([]string, len(o.Command))
		for i, a := range o.Command {
			argv[i] = r.Replace(a)
		}
		return argv, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "cannot determine path of running executable")
	}
	argv := []string{exe, SubcommandName,
		"--rate-limit", strconv.FormatInt(o.RateLimit, 10),
		"--buffer-size", strconv.Itoa(o.BufSize),
	}
	if o.Progress != nil {
		argv = append(argv, "--progress")
	}
	return argv, nil
}

// Attach spawns the filter process reading from upstream and returns it
// together with the read end of its stdout.
// The caller remains responsible for closing upstream, and must close the returned file
// once a downstream process has been started with it.
func Attach(ctx context.Context, upstream *os.File, opts Options) (*zfscmd.Cmd, *os.File, error) {
	argv, err := opts.argv()
	if err != nil {
		return nil, nil, &zfscmd.SpawnError{Args: []string{"zfstools", SubcommandName}, Err: err}
	}
	cmd := zfscmd.CommandContext(ctx, argv...)
	cmd.SetStdin(upstream)
	if opts.Progress != nil {
		cmd.SetStderr(opts.Progress)
	}
	out, err := cmd.StdoutPipe(opts.BufSize)
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return cmd, out, nil
}

// RunFilter is the body of the filter process: it parses args and copies stdin to stdout.
// Progress goes to stderr.
func RunFilter(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	flags := pflag.NewFlagSet(SubcommandName, pflag.ContinueOnError)
	flags.SetOutput(stderr)
	var (
		rateLimit datasizeunit.Bytes
		bufSize   datasizeunit.Bytes
		progress  bool
		interval  = flags.Duration("interval", DefaultInterval, "progress reporting interval")
	)
	flags.Var(&rateLimit, "rate-limit", "maximum throughput per second, negative for unlimited")
	flags.Var(&bufSize, "buffer-size", "copy buffer size")
	flags.BoolVar(&progress, "progress", false, "report progress on stderr")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() > 0 {
		return errors.Errorf("unexpected arguments: %v", flags.Args())
	}

	conf := Config{
		RateLimit: rateLimit.ToInt64(),
		BufSize:   int(bufSize.ToInt64()),
		Interval:  *interval,
	}
	if progress {
		conf.Progress = stderr
	}
	_, err := Copy(ctx, stdin, stdout, conf)
	return err
}
