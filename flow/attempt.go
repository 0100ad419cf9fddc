package flow

import (
	"context"
	"time"

	"github.com/jrsteele09/space-symphony/callback"
)

type Outcome int

const (
	Pending Outcome = iota
	Succeeded
	Failed
)

// Attempt is one in-flight login. It is owned by the Coordinator and resolves exactly once.
type Attempt struct {
	id        string
	state     string
	startedAt time.Time
	authURL   string

	listener *callback.Listener
	cancel   context.CancelFunc

	done    chan struct{}
	outcome Outcome
	err     error
}

func (a *Attempt) ID() string {
	return a.id
}

// StartedAt is when StartLogin accepted the attempt.
func (a *Attempt) StartedAt() time.Time {
	return a.startedAt
}

// AuthURL is the URL the user must visit. It is shown even when the browser opened,
// so the user can navigate manually.
func (a *Attempt) AuthURL() string {
	return a.authURL
}

// Done is closed when the attempt has resolved and its listener is stopped.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Outcome is Pending until Done is closed.
func (a *Attempt) Outcome() Outcome {
	select {
	case <-a.done:
		return a.outcome
	default:
		return Pending
	}
}

// Err is the attempt's result; only meaningful after Done is closed.
func (a *Attempt) Err() error {
	select {
	case <-a.done:
		return a.err
	default:
		return nil
	}
}

// Wait blocks until the attempt resolves or ctx ends. Abandoning the wait does not cancel the attempt.
func (a *Attempt) Wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Attempt) resolve(err error) {
	a.err = err
	a.outcome = Succeeded
	if err != nil {
		a.outcome = Failed
	}
	close(a.done)
}
