// Package storetest holds the behaviour every credentials.Store must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/space-symphony/credentials"
	apperrors "github.com/jrsteele09/space-symphony/internal/errors"
	"github.com/jrsteele09/space-symphony/internal/utils"
	"github.com/jrsteele09/space-symphony/token"
	"github.com/stretchr/testify/require"
)

const AppID = "space.symphony"

func SampleRecord(n int) token.Record {
	return token.Record{
		AccessToken:  fmt.Sprintf("access-%d", n),
		ExpiresIn:    token.Seconds(3600 + n),
		ExpiresAt:    utils.Ptr(time.Date(2026, 10, 15, 12, 0, n%60, 0, time.UTC)),
		RefreshToken: utils.Ptr(fmt.Sprintf("refresh-%d", n)),
		Scopes:       token.NewScopes("user-read-recently-played", fmt.Sprintf("scope-%d", n)),
		LoginState:   token.LoggedIn,
	}
}

// Run exercises newStore against the shared Store contract.
func Run(t *testing.T, newStore func(t *testing.T) credentials.Store) {
	t.Run("load before save returns nil", func(t *testing.T) {
		s := newStore(t)
		rec, err := s.Load(context.Background(), AppID)
		require.NoError(t, err)
		require.Nil(t, rec)
	})

	t.Run("round trip keeps every field", func(t *testing.T) {
		s := newStore(t)
		want := SampleRecord(7)
		require.NoError(t, s.Save(context.Background(), AppID, want))

		got, err := s.Load(context.Background(), AppID)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.True(t, want.Equal(*got), "got %+v", *got)
	})

	t.Run("absent optionals stay absent", func(t *testing.T) {
		s := newStore(t)
		want := token.Record{
			AccessToken: "access-only",
			Scopes:      token.NewScopes(),
			LoginState:  token.LoggedIn,
		}
		require.NoError(t, s.Save(context.Background(), AppID, want))

		got, err := s.Load(context.Background(), AppID)
		require.NoError(t, err)
		require.Nil(t, got.ExpiresAt)
		require.Nil(t, got.RefreshToken)
		require.Empty(t, got.Scopes)
		require.True(t, want.Equal(*got))
	})

	t.Run("save replaces the whole record", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(context.Background(), AppID, SampleRecord(1)))
		require.NoError(t, s.Save(context.Background(), AppID, token.LoggedOutRecord()))

		got, err := s.Load(context.Background(), AppID)
		require.NoError(t, err)
		require.Equal(t, token.LoggedOut, got.LoginState)
		require.Empty(t, got.AccessToken)
		require.Nil(t, got.RefreshToken)
		require.Nil(t, got.ExpiresAt)
	})

	t.Run("records are scoped by app id", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(context.Background(), AppID, SampleRecord(1)))

		other, err := s.Load(context.Background(), "other.app")
		require.NoError(t, err)
		require.Nil(t, other)
	})

	t.Run("invalid input is rejected without writing", func(t *testing.T) {
		s := newStore(t)
		require.ErrorIs(t, s.Save(context.Background(), "", SampleRecord(1)), apperrors.ErrInvalidAppID)
		require.ErrorIs(t, s.Save(context.Background(), "../escape", SampleRecord(1)), apperrors.ErrInvalidAppID)

		bad := SampleRecord(1)
		bad.AccessToken = ""
		require.ErrorIs(t, s.Save(context.Background(), AppID, bad), apperrors.ErrInvalidRecord)

		rec, err := s.Load(context.Background(), AppID)
		require.NoError(t, err)
		require.Nil(t, rec)
	})

	t.Run("loaded record is a copy", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(context.Background(), AppID, SampleRecord(3)))

		first, err := s.Load(context.Background(), AppID)
		require.NoError(t, err)
		*first.RefreshToken = "mutated"

		second, err := s.Load(context.Background(), AppID)
		require.NoError(t, err)
		require.Equal(t, "refresh-3", *second.RefreshToken)
	})

	t.Run("concurrent saves and loads never mix records", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Save(context.Background(), AppID, SampleRecord(0)))

		const writers, rounds = 4, 10
		var wg sync.WaitGroup
		errs := make(chan error, writers*rounds*2)

		for w := 0; w < writers; w++ {
			wg.Add(2)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < rounds; i++ {
					if err := s.Save(context.Background(), AppID, SampleRecord(w*rounds+i)); err != nil {
						errs <- err
					}
				}
			}(w)
			go func() {
				defer wg.Done()
				for i := 0; i < rounds; i++ {
					rec, err := s.Load(context.Background(), AppID)
					if err != nil {
						errs <- err
						continue
					}
					if err := consistent(rec); err != nil {
						errs <- err
					}
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
	})
}

// consistent checks that every field of rec came from the same SampleRecord.
func consistent(rec *token.Record) error {
	if rec == nil {
		return fmt.Errorf("record disappeared")
	}
	var n int
	if _, err := fmt.Sscanf(rec.AccessToken, "access-%d", &n); err != nil {
		return fmt.Errorf("unexpected access token %q", rec.AccessToken)
	}
	if want := SampleRecord(n); !want.Equal(*rec) {
		return fmt.Errorf("torn record for %d: %+v", n, *rec)
	}
	return nil
}
