package repofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/space-symphony/credentials"
	"github.com/jrsteele09/space-symphony/token"
)

var _ credentials.Store = (*FakeCredentialRepo)(nil)

// FakeCredentialRepo is an in-memory store that counts writes and can be told to fail.
type FakeCredentialRepo struct {
	records map[string]token.Record
	saves   int
	loadErr error
	saveErr error
	lock    sync.RWMutex
}

func NewFakeCredentialRepo() *FakeCredentialRepo {
	return &FakeCredentialRepo{
		records: make(map[string]token.Record),
	}
}

func (r *FakeCredentialRepo) Load(_ context.Context, appID string) (*token.Record, error) {
	if err := credentials.ValidateAppID(appID); err != nil {
		return nil, err
	}

	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.loadErr != nil {
		return nil, r.loadErr
	}
	rec, ok := r.records[appID]
	if !ok {
		return nil, nil
	}
	c := rec.Clone()
	return &c, nil
}

func (r *FakeCredentialRepo) Save(_ context.Context, appID string, record token.Record) error {
	if err := credentials.ValidateAppID(appID); err != nil {
		return err
	}
	if err := record.Validate(); err != nil {
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if r.saveErr != nil {
		return r.saveErr
	}
	r.records[appID] = record.Clone()
	r.saves++
	return nil
}

// Saves is the number of successful writes so far.
func (r *FakeCredentialRepo) Saves() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.saves
}

// Seed stores a record without counting it as a write.
func (r *FakeCredentialRepo) Seed(appID string, record token.Record) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.records[appID] = record.Clone()
}

func (r *FakeCredentialRepo) FailLoads(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.loadErr = err
}

func (r *FakeCredentialRepo) FailSaves(err error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.saveErr = err
}
