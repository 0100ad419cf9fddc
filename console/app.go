package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jrsteele09/space-symphony/flow"
	apperrors "github.com/jrsteele09/space-symphony/internal/errors"
	"github.com/jrsteele09/space-symphony/session"
)

// Flow is the part of the login coordinator the console drives.
type Flow interface {
	StartLogin(ctx context.Context) (*flow.Attempt, error)
	Logout(ctx context.Context) error
	Refresh(ctx context.Context) error
	Events() <-chan flow.Event
	Current() *flow.Attempt
}

// SessionReader is queried before every render.
type SessionReader interface {
	Status(ctx context.Context) session.Status
}

// App is the foreground loop: it renders a menu, turns typed commands into
// coordinator calls and prints coordinator events as they arrive.
type App struct {
	name    string
	flow    Flow
	session SessionReader
	in      io.Reader
	out     io.Writer
	colours palette
}

type Option func(*App)

// WithColour enables ANSI colours.
func WithColour(enabled bool) Option {
	return func(a *App) {
		a.colours = palette{enabled: enabled}
	}
}

func New(name string, f Flow, s SessionReader, in io.Reader, out io.Writer, options ...Option) *App {
	a := &App{name: name, flow: f, session: s, in: in, out: out}
	for _, opt := range options {
		opt(a)
	}
	return a
}

// Run returns when ctx ends, input reaches EOF, or the user quits.
func (a *App) Run(ctx context.Context) error {
	lines := make(chan string)
	go a.readLines(ctx, lines)

	a.render(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := a.handle(ctx, strings.ToLower(strings.TrimSpace(line))); quit {
				a.println("Bye.")
				return nil
			}
		case ev := <-a.flow.Events():
			a.report(ev)
			a.render(ctx)
		}
	}
}

func (a *App) readLines(ctx context.Context, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(a.in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) handle(ctx context.Context, cmd string) bool {
	loggedIn := a.isLoggedIn(ctx)

	switch cmd {
	case "":
		return false
	case "quit", "q", "exit":
		return true
	case "status", "s":
		a.render(ctx)
	case "login", "l":
		if loggedIn {
			a.println(a.colours.paint(Yellow, "Already logged in. Log out first."))
			return false
		}
		a.login(ctx)
	case "logout":
		if err := a.flow.Logout(ctx); err != nil {
			a.println(a.colours.paint(Red, "Logout failed: "+err.Error()))
			return false
		}
		a.println("Logged out.")
		a.render(ctx)
	case "refresh", "r":
		a.refresh(ctx)
	default:
		a.println(a.colours.paint(Yellow, fmt.Sprintf("Unknown command %q.", cmd)))
		a.render(ctx)
	}
	return false
}

func (a *App) login(ctx context.Context) {
	attempt, err := a.flow.StartLogin(ctx)
	if err != nil {
		if errors.Is(err, flow.ErrAlreadyInProgress) {
			a.println(a.colours.paint(Yellow, "A login is already in progress."))
			return
		}
		if flow.KindOf(err) == flow.BindFailed {
			// Reported through the LoginFailed event.
			return
		}
		a.println(a.colours.paint(Red, "Login failed: "+err.Error()))
		return
	}
	a.println("Opening your browser to log in. If it does not open, visit:")
	a.println("  " + a.colours.paint(Cyan, attempt.AuthURL()))
	a.render(ctx)
}

func (a *App) refresh(ctx context.Context) {
	err := a.flow.Refresh(ctx)
	switch {
	case err == nil:
		a.println(a.colours.paint(Green, "Access token refreshed."))
	case errors.Is(err, apperrors.ErrNotLoggedIn):
		a.println(a.colours.paint(Yellow, "Not logged in."))
	default:
		a.println(a.colours.paint(Red, "Refresh failed: "+err.Error()))
	}
}

func (a *App) report(ev flow.Event) {
	switch ev.Type {
	case flow.LoginCompleted:
		a.println(a.colours.paint(Green, "Logged in."))
	case flow.LoginNotPersisted:
		a.println(a.colours.paint(Red, "Logged in, but the credentials could not be saved. "+
			"You will need to log in again after restarting."))
	case flow.LoginFailed:
		msg := "Login failed."
		if ev.Err != nil {
			msg = "Login failed: " + ev.Err.Error()
		}
		a.println(a.colours.paint(Red, msg))
	}
}

func (a *App) isLoggedIn(ctx context.Context) bool {
	switch a.session.Status(ctx) {
	case session.LoggedIn, session.Expired:
		return true
	default:
		return false
	}
}

func (a *App) render(ctx context.Context) {
	status := a.session.Status(ctx)

	colour := Yellow
	if a.isLoggedIn(ctx) {
		colour = Green
	}
	a.println(a.colours.paint(GreenInverse, " "+a.name+" ") + "  " + a.colours.paint(colour, status.String()))

	if pending := a.flow.Current(); pending != nil {
		a.println(a.colours.paint(Cyan, fmt.Sprintf("  Login in progress since %s, waiting for the browser.",
			pending.StartedAt().Format(time.Kitchen))))
	}

	if a.isLoggedIn(ctx) {
		a.println(a.colours.paint(Gray, "  [logout]  [refresh]  [status]  [quit]"))
	} else {
		a.println(a.colours.paint(Gray, "  [login]  [status]  [quit]"))
	}
}

func (a *App) println(s string) {
	_, _ = fmt.Fprintln(a.out, s)
}
