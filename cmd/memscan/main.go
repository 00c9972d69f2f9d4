// Command memscan attaches to a running process and interactively
// searches and rewrites its memory.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/HackTestes/MemoryScanner/internal/config"
	"github.com/HackTestes/MemoryScanner/internal/logging"
	"github.com/HackTestes/MemoryScanner/internal/proc"
	"github.com/HackTestes/MemoryScanner/internal/repl"
	"github.com/HackTestes/MemoryScanner/internal/session"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to an optional defaults file.
	ConfigPath string
	// Verbose enables debug logging.
	Verbose bool
	// FixYama temporarily sets yama.ptrace_scope to 0 and restores it
	// on exit.
	FixYama bool
}

var rootCmd = &cobra.Command{
	Use:   "memscan <pid>",
	Short: "Interactive memory scanner for a running process",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid PID: %w", err)
		}
		return run(pid, cmd)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "path to a YAML defaults file")
	rootCmd.Flags().BoolVar(&cmd.Verbose, "verbose", false, "show debug output")
	rootCmd.Flags().BoolVar(&cmd.FixYama, "fix-yama", false, "automatically fix yama.ptrace_scope sysctl and restore on exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(pid int, cmd Cmd) error {
	log, err := logging.New(cmd.Verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(cmd.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	kinds, err := cfg.Kinds()
	if err != nil {
		return err
	}

	cleanupYama, err := handleYama(pid, cmd, log)
	if err != nil {
		return err
	}
	if cleanupYama != nil {
		defer cleanupYama()

		// Restore the sysctl even when the loop is torn down by a
		// signal.
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			log.Info("received signal, cleaning up")
			cleanupYama()
			os.Exit(1)
		}()
	}

	process, err := proc.Attach(pid, log)
	if err != nil {
		return err
	}
	fmt.Printf("Process attached! Id- %d\n", pid)

	sess := session.New(process, log)
	defer sess.Close()

	defaults := repl.Command{
		Kinds:   kinds,
		Jobs:    cfg.Jobs,
		SleepMs: cfg.SleepMs,
		Value:   "0",
	}
	return repl.New(sess, defaults, os.Stdin, os.Stdout, log).Run()
}

// handleYama checks the yama ptrace scope before attach and, with
// --fix-yama, relaxes it for the lifetime of the run.
func handleYama(pid int, cmd Cmd, log *zap.SugaredLogger) (func(), error) {
	if pid == os.Getpid() || os.Geteuid() == 0 {
		return nil, nil
	}
	yama, err := proc.CheckYamaSysctl()
	if err != nil {
		// Kernel without yama: nothing to do.
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if yama == 0 {
		return nil, nil
	}
	if !cmd.FixYama {
		return nil, fmt.Errorf("yama.ptrace_scope is set to %d, which prevents cross-process access\n"+
			"To fix this, run: sudo sysctl kernel.yama.ptrace_scope=0\n"+
			"Or use the --fix-yama flag to automatically fix and restore it", yama)
	}
	return proc.FixYamaSysctl(log)
}
