package scheduler

import (
	"errors"
	"testing"

	"ddnsd/ddns"
	"ddnsd/log"

	"gotest.tools/v3/assert"
)

func newTestUpdater(p *fakeProvider) *Updater {
	u := NewUpdater(fakeVault{creds: map[string]ddns.Credentials{
		"fake": {Provider: "fake", APIKey: "token"},
	}})
	u.factory = func(id string) (ddns.Interface, error) {
		if id != "fake" {
			return ddns.New(id)
		}
		return p, nil
	}
	return u
}

func TestUpdaterUpdatesExistingRecord(t *testing.T) {
	p := &fakeProvider{records: []ddns.Record{
		{ID: "r0", Name: "www", Type: "A", Content: "9.9.9.9"},
		{ID: "r1", Name: "home", Type: "A", Content: "1.2.3.4"},
	}}

	res, err := newTestUpdater(p).Update(log.Nop(), domain("home", "1.2.3.4"), "5.6.7.8")
	assert.NilError(t, err)
	assert.Equal(t, res.RecordID, "r1")
	assert.DeepEqual(t, p.calls, []string{"init:token", "get:home/A", "update:r1=5.6.7.8"})
}

func TestUpdaterCreatesMissingRecord(t *testing.T) {
	p := &fakeProvider{}
	d := domain("home", "")
	d.Subdomain = ""

	res, err := newTestUpdater(p).Update(log.Nop(), d, "5.6.7.8")
	assert.NilError(t, err)
	assert.Equal(t, res.Message, "record created")
	assert.DeepEqual(t, p.calls, []string{"init:token", "get:@/A", "create:@/A=5.6.7.8"})
}

func TestUpdaterErrors(t *testing.T) {
	ctx := log.Nop()

	t.Run("unknown provider", func(t *testing.T) {
		d := domain("home", "")
		d.Provider = "nope"
		_, err := newTestUpdater(&fakeProvider{}).Update(ctx, d, "5.6.7.8")
		assert.Assert(t, errors.Is(err, ddns.ErrUnknownProvider))
	})

	t.Run("no credentials", func(t *testing.T) {
		d := domain("home", "")
		d.Provider = "aliyun"
		_, err := newTestUpdater(&fakeProvider{}).Update(ctx, d, "5.6.7.8")
		assert.ErrorContains(t, err, "no credentials configured")
	})

	t.Run("rejected credentials", func(t *testing.T) {
		p := &fakeProvider{initErr: &ddns.Error{Provider: "fake", Kind: ddns.AuthenticationFailed}}
		_, err := newTestUpdater(p).Update(ctx, domain("home", ""), "5.6.7.8")
		assert.Assert(t, errors.Is(err, ddns.ErrAuthentication))
		assert.DeepEqual(t, p.calls, []string{"init:token"})
	})
}
