package token

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/space-symphony/internal/errors"
)

// LoginState records whether the stored credentials represent an active session.
type LoginState string

const (
	LoggedOut LoginState = "logged_out"
	LoggedIn  LoginState = "logged_in"
)

func (s LoginState) String() string {
	return string(s)
}

// UnmarshalJSON rejects anything other than the two known states.
func (s *LoginState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch LoginState(raw) {
	case LoggedIn, LoggedOut:
		*s = LoginState(raw)
		return nil
	case "":
		*s = LoggedOut
		return nil
	default:
		return fmt.Errorf("unknown login state %q", raw)
	}
}

// Seconds is a duration persisted as a whole number of seconds.
type Seconds int64

func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

// SecondsOf truncates d to whole seconds.
func SecondsOf(d time.Duration) Seconds {
	return Seconds(d / time.Second)
}

// Record is the credential bundle persisted for one application.
// The optional fields are pointers so that "absent" survives a round trip
// instead of collapsing into an empty string or the zero time.
type Record struct {
	AccessToken  string     `json:"access_token"`
	ExpiresIn    Seconds    `json:"expires_in"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	RefreshToken *string    `json:"refresh_token,omitempty"`
	Scopes       Scopes     `json:"scopes"`
	LoginState   LoginState `json:"login_state"`
}

// LoggedOutRecord is the record written on logout: no token material at all.
func LoggedOutRecord() Record {
	return Record{
		Scopes:     NewScopes(),
		LoginState: LoggedOut,
	}
}

// IsLoggedIn is the only definition of "logged in" in the application.
func (r *Record) IsLoggedIn() bool {
	return r != nil && r.LoginState == LoggedIn && r.AccessToken != ""
}

// IsExpired reports whether the access token expiry is known and has passed.
func (r *Record) IsExpired(now time.Time) bool {
	if r == nil || r.ExpiresAt == nil {
		return false
	}
	return !now.Before(*r.ExpiresAt)
}

// Validate enforces: LoggedIn iff a non-empty access token is present.
func (r Record) Validate() error {
	switch r.LoginState {
	case LoggedIn:
		if strings.TrimSpace(r.AccessToken) == "" {
			return apperrors.Wrapf(apperrors.ErrInvalidRecord, "logged in record without access token")
		}
	case LoggedOut:
		if r.AccessToken != "" || r.RefreshToken != nil || r.ExpiresAt != nil || r.ExpiresIn != 0 {
			return apperrors.Wrapf(apperrors.ErrInvalidRecord, "logged out record still carries token fields")
		}
	default:
		return apperrors.Wrapf(apperrors.ErrInvalidRecord, "unknown login state %q", r.LoginState)
	}
	if r.ExpiresIn < 0 {
		return apperrors.Wrapf(apperrors.ErrInvalidRecord, "negative expires_in %d", r.ExpiresIn)
	}
	return nil
}

// Clone returns a deep copy so stores never share pointers with callers.
func (r Record) Clone() Record {
	c := r
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	if r.RefreshToken != nil {
		s := *r.RefreshToken
		c.RefreshToken = &s
	}
	c.Scopes = r.Scopes.Clone()
	return c
}

// Equal compares two records field by field, treating timestamps by instant.
func (r Record) Equal(o Record) bool {
	if r.AccessToken != o.AccessToken || r.ExpiresIn != o.ExpiresIn || r.LoginState != o.LoginState {
		return false
	}
	if (r.ExpiresAt == nil) != (o.ExpiresAt == nil) {
		return false
	}
	if r.ExpiresAt != nil && !r.ExpiresAt.Equal(*o.ExpiresAt) {
		return false
	}
	if (r.RefreshToken == nil) != (o.RefreshToken == nil) {
		return false
	}
	if r.RefreshToken != nil && *r.RefreshToken != *o.RefreshToken {
		return false
	}
	return r.Scopes.Equal(o.Scopes)
}
