package repl

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HackTestes/MemoryScanner/internal/scan"
)

func newTestParser() *Parser {
	return NewParser(zap.NewNop().Sugar())
}

func defaults() Command {
	return Command{
		Kinds:   []scan.Kind{scan.U32},
		Jobs:    1,
		SleepMs: 0,
		Value:   "0",
	}
}

func TestParseUnknownVerb(t *testing.T) {
	_, err := newTestParser().Parse("searchz", defaults())
	require.ErrorIs(t, err, ErrInvalidCommand)
}

func TestParseEmptyLine(t *testing.T) {
	_, err := newTestParser().Parse("   ", defaults())
	require.ErrorIs(t, err, ErrInvalidCommand)
}

func TestParseUnknownOption(t *testing.T) {
	_, err := newTestParser().Parse("search -N --dataType=u32", defaults())
	require.ErrorIs(t, err, ErrOptionDoesntExist)
}

func TestParseOptionWithoutRequiredValue(t *testing.T) {
	_, err := newTestParser().Parse("search --dataType= ", defaults())
	require.ErrorIs(t, err, ErrInsufficientParameters)

	_, err = newTestParser().Parse("search --value", defaults())
	require.ErrorIs(t, err, ErrInsufficientParameters)
}

func TestParseSearch(t *testing.T) {
	cmd, err := newTestParser().Parse("search --dataType=u32,u64 -j=12 --value=42", defaults())
	require.NoError(t, err)
	require.Equal(t, ActionSearch, cmd.Action)
	require.Equal(t, []scan.Kind{scan.U32, scan.U64}, cmd.Kinds)
	require.Equal(t, 12, cmd.Jobs)
	require.Equal(t, "42", cmd.Value)
	require.False(t, cmd.Filter)
}

func TestParseFilterSearch(t *testing.T) {
	cmd, err := newTestParser().Parse("search --filterSearch -v=43", defaults())
	require.NoError(t, err)
	require.True(t, cmd.Filter)
	require.Equal(t, "43", cmd.Value)
}

func TestParseShortOptions(t *testing.T) {
	cmd, err := newTestParser().Parse("search -D=i64,f32 -j=3 -v=-7 -F", defaults())
	require.NoError(t, err)
	require.Equal(t, []scan.Kind{scan.I64, scan.F32}, cmd.Kinds)
	require.Equal(t, 3, cmd.Jobs)
	require.Equal(t, "-7", cmd.Value)
	require.True(t, cmd.Filter)
}

func TestParseWriteFreeze(t *testing.T) {
	cmd, err := newTestParser().Parse("write --freeze --sleep=50 --value=7", defaults())
	require.NoError(t, err)
	require.Equal(t, ActionWrite, cmd.Action)
	require.True(t, cmd.Freeze)
	require.Equal(t, uint64(50), cmd.SleepMs)
	require.Equal(t, "7", cmd.Value)
}

func TestParseAddress(t *testing.T) {
	cmd, err := newTestParser().Parse("write --address=0x1000 -v=1", defaults())
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), cmd.Address)

	cmd, err = newTestParser().Parse("write -a=4096 -v=1", defaults())
	require.NoError(t, err)
	require.Equal(t, uint64(4096), cmd.Address)
}

func TestParseHelp(t *testing.T) {
	cmd, err := newTestParser().Parse("search -h", defaults())
	require.NoError(t, err)
	require.True(t, cmd.Help)
}

func TestParseDefaultsPreserved(t *testing.T) {
	d := defaults()
	d.Jobs = 8
	d.Kinds = []scan.Kind{scan.F64}

	cmd, err := newTestParser().Parse("search -v=1", d)
	require.NoError(t, err)
	require.Equal(t, 8, cmd.Jobs)
	require.Equal(t, []scan.Kind{scan.F64}, cmd.Kinds)
}

func TestParseUnknownDataTypeKeepsDefaults(t *testing.T) {
	cmd, err := newTestParser().Parse("search --dataType=u7,u99 -v=1", defaults())
	require.NoError(t, err)
	require.Equal(t, []scan.Kind{scan.U32}, cmd.Kinds)
}

func TestParseInvalidJobsKeepsDefault(t *testing.T) {
	cmd, err := newTestParser().Parse("search -j=zero -v=1", defaults())
	require.NoError(t, err)
	require.Equal(t, 1, cmd.Jobs)

	cmd, err = newTestParser().Parse("search -j=0 -v=1", defaults())
	require.NoError(t, err)
	require.Equal(t, 1, cmd.Jobs)
}

func TestParseVerbs(t *testing.T) {
	for verb, action := range map[string]Action{
		"search":  ActionSearch,
		"write":   ActionWrite,
		"display": ActionDisplay,
		"exit":    ActionExit,
	} {
		cmd, err := newTestParser().Parse(verb, defaults())
		require.NoError(t, err)
		require.Equal(t, action, cmd.Action)
	}
}

func TestHelpText(t *testing.T) {
	help := newTestParser().HelpText()
	for _, want := range []string{"--help", "--dataType", "--jobs", "--filterSearch", "--value", "--sleep", "--freeze", "--address", "search, write, display, exit"} {
		require.Contains(t, help, want)
	}
}
