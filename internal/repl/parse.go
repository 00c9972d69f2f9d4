// Package repl implements the interactive command surface: one
// command per line, a verb followed by --long[=VAL[,VAL...]] or
// -s[=VAL[,VAL...]] options.
package repl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/HackTestes/MemoryScanner/internal/scan"
)

var (
	// ErrInvalidCommand is returned for an unknown verb.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrOptionDoesntExist is returned for an unknown option.
	ErrOptionDoesntExist = errors.New("option doesn't exist")

	// ErrInsufficientParameters is returned when an option received
	// fewer values than it requires.
	ErrInsufficientParameters = errors.New("insufficient parameters")
)

// Action selects what the driver should do with a parsed command.
type Action uint8

const (
	ActionSearch Action = iota
	ActionWrite
	ActionDisplay
	ActionExit
)

// Command is one fully parsed input line, pre-filled with the session
// defaults before options apply.
type Command struct {
	Action  Action
	Help    bool
	Kinds   []scan.Kind
	Filter  bool // refine instead of replacing
	Value   string
	SleepMs uint64
	Freeze  bool
	Address uint64 // reserved: no verb consumes it yet
	Jobs    int
}

// option describes one recognised option: its two spellings, the
// values it requires, help text, and the effect on the command.
type option struct {
	long   string
	short  string
	params []string
	desc   string
	apply  func(p *Parser, cmd *Command, values []string)
}

// Parser tokenises command lines against the option table.
type Parser struct {
	log     *zap.SugaredLogger
	options []option
	byName  map[string]int
}

// NewParser builds the parser with the full option table.
func NewParser(log *zap.SugaredLogger) *Parser {
	p := &Parser{log: log}
	p.options = []option{
		{
			long: "--help", short: "-h",
			desc: "Displays help text",
			apply: func(_ *Parser, cmd *Command, _ []string) {
				cmd.Help = true
			},
		},
		{
			long: "--dataType", short: "-D",
			params: []string{"value_types..."},
			desc:   "Selects which data types should be used (u8,u16,u32,u64,i32,i64,f32,f64)",
			apply: func(p *Parser, cmd *Command, values []string) {
				var kinds []scan.Kind
				for _, name := range values {
					k, err := scan.ParseKind(name)
					if err != nil {
						p.log.Warnw("wrong filter type", "type", name)
						continue
					}
					kinds = append(kinds, k)
				}
				if len(kinds) > 0 {
					cmd.Kinds = kinds
				}
			},
		},
		{
			long: "--jobs", short: "-j",
			params: []string{"number_of_threads"},
			desc:   "Selects the maximum number of worker threads",
			apply: func(p *Parser, cmd *Command, values []string) {
				n, err := strconv.Atoi(values[0])
				if err != nil || n < 1 {
					p.log.Warnw("invalid worker count", "value", values[0])
					return
				}
				cmd.Jobs = n
			},
		},
		{
			long: "--filterSearch", short: "-F",
			desc: "The next search refines the previous results instead of replacing them",
			apply: func(_ *Parser, cmd *Command, _ []string) {
				cmd.Filter = true
			},
		},
		{
			long: "--value", short: "-v",
			params: []string{"value"},
			desc:   "Value that should be searched or written",
			apply: func(_ *Parser, cmd *Command, values []string) {
				cmd.Value = values[0]
			},
		},
		{
			long: "--sleep", short: "-s",
			params: []string{"milliseconds"},
			desc:   "Freeze cycle interval in milliseconds (0 = tight loop)",
			apply: func(p *Parser, cmd *Command, values []string) {
				ms, err := strconv.ParseUint(values[0], 10, 64)
				if err != nil {
					p.log.Warnw("invalid sleep interval", "value", values[0])
					return
				}
				cmd.SleepMs = ms
			},
		},
		{
			long: "--freeze", short: "-S",
			desc: "The next write repeats in a freeze loop until ENTER is pressed",
			apply: func(_ *Parser, cmd *Command, _ []string) {
				cmd.Freeze = true
			},
		},
		{
			long: "--address", short: "-a",
			params: []string{"address"},
			desc:   "Selects a specific address (reserved)",
			apply: func(p *Parser, cmd *Command, values []string) {
				addr, err := strconv.ParseUint(values[0], 0, 64)
				if err != nil {
					p.log.Warnw("invalid address", "value", values[0])
					return
				}
				cmd.Address = addr
			},
		},
	}
	p.byName = make(map[string]int)
	for i, opt := range p.options {
		p.byName[opt.long] = i
		p.byName[opt.short] = i
	}
	return p
}

var verbs = map[string]Action{
	"search":  ActionSearch,
	"write":   ActionWrite,
	"display": ActionDisplay,
	"exit":    ActionExit,
}

// Parse tokenises one line. The returned command starts from defaults;
// parsing errors leave the session untouched and the caller reprompts.
func (p *Parser) Parse(line string, defaults Command) (Command, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return Command{}, ErrInvalidCommand
	}

	cmd := defaults
	action, ok := verbs[tokens[0]]
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrInvalidCommand, tokens[0])
	}
	cmd.Action = action

	for _, token := range tokens[1:] {
		if !strings.HasPrefix(token, "-") {
			continue
		}

		name, rest, hasValues := strings.Cut(token, "=")
		var values []string
		if hasValues && rest != "" {
			values = strings.Split(rest, ",")
		}

		idx, ok := p.byName[name]
		if !ok {
			return Command{}, fmt.Errorf("%w: %q", ErrOptionDoesntExist, name)
		}
		opt := &p.options[idx]
		if len(values) < len(opt.params) {
			return Command{}, fmt.Errorf("%w: %s requires %d value(s)", ErrInsufficientParameters, opt.long, len(opt.params))
		}
		opt.apply(p, &cmd, values)
	}

	return cmd, nil
}

// HelpText renders the usage header and the option table.
func (p *Parser) HelpText() string {
	var b strings.Builder
	b.WriteString("[MAIN]\n\tmemscan <PROCESS_ID>\n\n")
	b.WriteString("[COMMANDS]\n\tsearch, write, display, exit\n\n")
	b.WriteString("[OPTIONS]\n")
	for _, opt := range p.options {
		params := ""
		if len(opt.params) > 0 {
			params = fmt.Sprintf("=<%s>", strings.ToUpper(strings.Join(opt.params, "><")))
		}
		fmt.Fprintf(&b, "%s %s%s\n\t%s\n\n", opt.short, opt.long, params, opt.desc)
	}
	return b.String()
}
