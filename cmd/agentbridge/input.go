package main

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/reeflective/readline"

	"github.com/bazelment/agentbridge/permission"
	"github.com/bazelment/agentbridge/session"
)

// errInterrupted is returned for a prompt cut short with Ctrl-C.
var errInterrupted = errors.New("interrupted")

// readFunc shows prompt and reads one line. It returns io.EOF at the end
// of input.
type readFunc func(prompt string) (string, error)

type lineResult struct {
	line string
	err  error
}

// lineSource reads one line per request on its own goroutine, so the chat
// keeps watching the session while a prompt is open. Its methods are
// called from a single goroutine.
type lineSource struct {
	reqs    chan string
	results chan lineResult

	busy   bool // a request is outstanding
	stale  bool // nobody wants the outstanding answer
	queued bool // next is issued once the stale answer arrives
	next   string
}

func newLineSource(read readFunc) *lineSource {
	l := &lineSource{
		reqs:    make(chan string, 1),
		results: make(chan lineResult, 1),
	}
	go func() {
		for prompt := range l.reqs {
			line, err := read(prompt)
			l.results <- lineResult{line: line, err: err}
		}
	}()
	return l
}

// request asks for a line unless one is already being read for the
// caller.
func (l *lineSource) request(prompt string) {
	switch {
	case !l.busy:
		l.busy = true
		l.reqs <- prompt
	case l.stale:
		l.next, l.queued = prompt, true
	}
}

// abandon gives up on the outstanding request; its answer is discarded.
func (l *lineSource) abandon() {
	if l.busy {
		l.stale = true
		l.queued = false
	}
}

// accept must follow every receive from results. It reports whether the
// line was wanted.
func (l *lineSource) accept() bool {
	wanted := !l.stale
	l.busy, l.stale = false, false
	if l.queued {
		l.queued = false
		l.request(l.next)
	}
	return wanted
}

func (l *lineSource) close() {
	close(l.reqs)
}

// scanLines reads piped input. Prompts are not shown.
func scanLines(r io.Reader) readFunc {
	scanner := bufio.NewScanner(r)
	return func(string) (string, error) {
		if scanner.Scan() {
			return scanner.Text(), nil
		}
		if err := scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
}

// terminalLines reads from the terminal with history and completion.
func terminalLines() readFunc {
	rl := readline.NewShell()
	var prompt string
	rl.Prompt.Primary(func() string { return prompt })
	rl.History.Add("chat", readline.NewInMemoryHistory())
	rl.Completer = completeLine

	return func(p string) (string, error) {
		prompt = p
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			return "", errInterrupted
		}
		return line, err
	}
}

var chatCommands = []struct {
	name        string
	description string
}{
	{"/mode", "Change the permission mode"},
	{"/model", "Change the model"},
	{"/thinking", "Change the thinking level"},
	{"/abort", "Abort the running turn"},
	{"/quit", "Exit"},
	{"/exit", "Exit (alias)"},
}

var commandArgs = map[string][]string{
	"/mode": {
		string(permission.ModeDefault),
		string(permission.ModeAcceptEdits),
		string(permission.ModeBypass),
		string(permission.ModePlan),
	},
	"/thinking": {
		string(session.ThinkingLow),
		string(session.ThinkingMedium),
		string(session.ThinkingHigh),
	},
}

func completeLine(line []rune, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	values, descriptions := completions(string(line[:cursor]))
	switch {
	case len(values) == 0:
		return readline.Completions{}
	case descriptions == nil:
		return readline.CompleteValues(values...).Tag("values")
	}
	pairs := make([]string, 0, len(values)*2)
	for i, v := range values {
		pairs = append(pairs, v, descriptions[i])
	}
	return readline.CompleteValuesDescribed(pairs...).Tag("commands").NoSpace('/')
}

// completions returns the candidates for text: slash commands, or the
// argument of /mode and /thinking. Commands come with descriptions.
func completions(text string) (values, descriptions []string) {
	if !strings.HasPrefix(text, "/") {
		return nil, nil
	}
	name, arg, hasArg := strings.Cut(text, " ")
	if !hasArg {
		for _, c := range chatCommands {
			if strings.HasPrefix(c.name, name) {
				values = append(values, c.name)
				descriptions = append(descriptions, c.description)
			}
		}
		return values, descriptions
	}
	arg = strings.TrimLeft(arg, " ")
	for _, v := range commandArgs[name] {
		if strings.HasPrefix(v, arg) {
			values = append(values, v)
		}
	}
	return values, nil
}
