package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"

	"github.com/HackTestes/MemoryScanner/internal/proc"
	"github.com/HackTestes/MemoryScanner/internal/scan"
	"github.com/HackTestes/MemoryScanner/internal/session"
)

// REPL reads commands, dispatches to the session and prints results.
// Parsing errors reprompt; only capability loss ends the loop with an
// error.
type REPL struct {
	sess     *session.Session
	parser   *Parser
	defaults Command
	in       io.Reader
	out      io.Writer
	log      *zap.SugaredLogger
}

// New builds a REPL over the session. The defaults seed every parsed
// command; options override them per line.
func New(sess *session.Session, defaults Command, in io.Reader, out io.Writer, log *zap.SugaredLogger) *REPL {
	return &REPL{
		sess:     sess,
		parser:   NewParser(log),
		defaults: defaults,
		in:       in,
		out:      out,
		log:      log,
	}
}

// Run drives the command loop until exit, input EOF or capability
// loss.
func (r *REPL) Run() error {
	lines := bufio.NewScanner(r.in)
	for {
		fmt.Fprintf(r.out, "\n--------------------------------------------------\n\ncommand> ")
		if !lines.Scan() {
			return lines.Err()
		}

		line := strings.TrimSpace(lines.Text())
		if line == "" {
			continue
		}
		cmd, err := r.parser.Parse(line, r.defaults)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			continue
		}
		if cmd.Help {
			fmt.Fprint(r.out, r.parser.HelpText())
			continue
		}

		switch cmd.Action {
		case ActionExit:
			return nil
		case ActionSearch:
			if err := r.search(cmd); err != nil {
				return err
			}
		case ActionWrite:
			if err := r.write(cmd, lines); err != nil {
				return err
			}
		case ActionDisplay:
			r.display()
		}
	}
}

func (r *REPL) search(cmd Command) error {
	var sum session.Summary
	var err error
	if cmd.Filter {
		sum, err = r.sess.Refine(cmd.Kinds, cmd.Value, cmd.Jobs)
	} else {
		fmt.Fprintln(r.out, "Search started!")
		sum, err = r.sess.NewScan(cmd.Kinds, cmd.Value, cmd.Jobs)
	}
	if err != nil {
		if errors.Is(err, proc.ErrCapabilityLost) {
			return err
		}
		fmt.Fprintf(r.out, "error: %v\n", err)
		return nil
	}
	for _, k := range sum.SkippedKinds {
		fmt.Fprintf(r.out, "value %q is not representable as %s, kind skipped\n", cmd.Value, k)
	}
	fmt.Fprintf(r.out, "Number of matches: %d (in %d regions)\n", sum.Matches, sum.Regions)
	return nil
}

func (r *REPL) write(cmd Command, lines *bufio.Scanner) error {
	kind := scan.U32
	if len(cmd.Kinds) > 0 {
		kind = cmd.Kinds[0]
	}

	if cmd.Freeze {
		freeze, err := r.sess.StartFreeze(kind, cmd.Value, time.Duration(cmd.SleepMs)*time.Millisecond)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			return nil
		}
		fmt.Fprintln(r.out, "Press ENTER to stop freeze and continue")
		lines.Scan()
		if freeze.Stop() {
			fmt.Fprintln(r.out, "Write successful!")
		} else {
			fmt.Fprintln(r.out, "Error on write!")
		}
		return nil
	}

	sum, err := r.sess.WriteMatches(kind, cmd.Value)
	if err != nil {
		if errors.Is(err, proc.ErrCapabilityLost) {
			return err
		}
		fmt.Fprintf(r.out, "error: %v\n", err)
		return nil
	}
	if sum.Failed > 0 {
		fmt.Fprintf(r.out, "Write successful! (%d written, %d failed)\n", sum.Written, sum.Failed)
	} else {
		fmt.Fprintf(r.out, "Write successful! (%d written)\n", sum.Written)
	}
	return nil
}

func (r *REPL) display() {
	results := r.sess.Results()
	fmt.Fprintf(r.out, "Number of sections: %d\n\n", len(results))

	for _, rm := range results {
		fmt.Fprintf(r.out, "Section %#x (%s): %d matches\n",
			rm.Region.Base,
			datasize.ByteSize(rm.Region.Length).HumanReadable(),
			rm.Matches.Total())
		for _, k := range scan.Kinds {
			if len(rm.Matches[k]) == 0 {
				continue
			}
			fmt.Fprintf(r.out, "\t%s:", k)
			for _, addr := range rm.AbsoluteAddresses(k) {
				fmt.Fprintf(r.out, " %#x", addr)
			}
			fmt.Fprintln(r.out)
		}
	}
}
