package session

import (
	"context"
	"time"

	"github.com/jrsteele09/space-symphony/credentials"
	"github.com/jrsteele09/space-symphony/token"
	"github.com/rs/zerolog/log"
)

// Status is what the UI needs to pick its affordances.
type Status int

const (
	NeverLoggedIn Status = iota
	LoggedOut
	LoggedIn
	// Expired is a logged-in record whose access token expiry has passed.
	Expired
	// Unavailable means the store could not be read; the UI treats it as logged out.
	Unavailable
)

func (s Status) String() string {
	switch s {
	case NeverLoggedIn:
		return "never logged in"
	case LoggedOut:
		return "logged out"
	case LoggedIn:
		return "logged in"
	case Expired:
		return "logged in (token expired)"
	case Unavailable:
		return "unknown (credentials unreadable)"
	default:
		return "unknown"
	}
}

// Reader answers session queries from the credential store. It keeps no state of its own.
type Reader struct {
	store   credentials.Store
	appID   string
	nowTime func() time.Time
}

func NewReader(store credentials.Store, appID string) *Reader {
	return &Reader{store: store, appID: appID, nowTime: time.Now}
}

// WithNowTime returns a copy of the reader using nowFunc (primarily for testing)
func (r *Reader) WithNowTime(nowFunc func() time.Time) *Reader {
	c := *r
	c.nowTime = nowFunc
	return &c
}

// IsLoggedIn is false for a missing record, a logged-out record, or an unreadable store.
func (r *Reader) IsLoggedIn(ctx context.Context) bool {
	rec, err := r.load(ctx)
	if err != nil {
		return false
	}
	return rec.IsLoggedIn()
}

// Status is a finer-grained IsLoggedIn; Expired still counts as logged in.
func (r *Reader) Status(ctx context.Context) Status {
	rec, err := r.load(ctx)
	switch {
	case err != nil:
		return Unavailable
	case rec == nil:
		return NeverLoggedIn
	case !rec.IsLoggedIn():
		return LoggedOut
	case rec.IsExpired(r.nowTime()):
		return Expired
	default:
		return LoggedIn
	}
}

// Record returns the stored record, or nil when none is readable.
func (r *Reader) Record(ctx context.Context) *token.Record {
	rec, _ := r.load(ctx)
	return rec
}

func (r *Reader) load(ctx context.Context) (*token.Record, error) {
	rec, err := r.store.Load(ctx, r.appID)
	if err != nil {
		log.Err(err).Str("app_id", r.appID).Msg("Failed to read credentials, treating session as logged out")
		return nil, err
	}
	return rec, nil
}
