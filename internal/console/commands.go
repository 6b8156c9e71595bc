package console

import (
	"fmt"
	"strings"
	"sync"
)

// CommandContext holds the state available to command handlers.
type CommandContext struct {
	Console *Console
	Args    []string
}

// CommandHandler runs a slash command. It returns true when the session
// should end (e.g. /quit).
type CommandHandler func(ctx CommandContext) bool

// Command describes a registered slash command.
type Command struct {
	Usage   string // e.g. "/history [n]"; defaults to the command name
	Help    string
	Handler CommandHandler
}

// CommandRegistry maps command names to handlers and produces help text.
// Once frozen no more commands can be registered.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]Command
	order    []string // registration order for help output
	frozen   bool
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{commands: make(map[string]Command)}
}

// Register adds a command. The name includes the leading slash. Registering
// a name twice replaces the earlier entry. Panics on a nil handler or a
// frozen registry.
func (r *CommandRegistry) Register(name string, cmd Command) {
	if cmd.Handler == nil {
		panic("console: Register called with nil handler for " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("console: Register called on frozen registry for " + name)
	}
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = cmd
}

// Freeze prevents further registration. Run calls it before reading input.
func (r *CommandRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Dispatch parses a command line and calls the matching handler.
func (r *CommandRegistry) Dispatch(c *Console, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	name, args := parts[0], parts[1:]

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()

	if !ok {
		c.Printf("Unknown command: %s (try /help)\n", name)
		return false
	}
	return cmd.Handler(CommandContext{Console: c, Args: args})
}

// HelpText lists all registered commands in registration order.
func (r *CommandRegistry) HelpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range r.order {
		cmd := r.commands[name]
		display := name
		if cmd.Usage != "" {
			display = cmd.Usage
		}
		_, _ = fmt.Fprintf(&b, "  %-16s %s\n", display, cmd.Help)
	}
	return b.String()
}

// RegisterBuiltins registers /help and /quit.
func (r *CommandRegistry) RegisterBuiltins() {
	r.Register("/help", Command{
		Help: "show this help",
		Handler: func(ctx CommandContext) bool {
			ctx.Console.Printf("%s", r.HelpText())
			return false
		},
	})
	r.Register("/quit", Command{
		Help: "disconnect and exit",
		Handler: func(ctx CommandContext) bool {
			ctx.Console.Printf("Goodbye.\n")
			return true
		},
	})
}
