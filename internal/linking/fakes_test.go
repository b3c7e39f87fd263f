package linking

import (
	"context"
	"errors"
	"sync"

	"github.com/displex/displex/internal/accounts"
	"github.com/displex/displex/internal/discord"
	"github.com/displex/displex/internal/plex"
	"github.com/displex/displex/internal/tautulli"
)

var errBoom = errors.New("boom")

type fakeIdentity struct {
	mu        sync.Mutex
	state     string
	exchanged []string
	pushed    []discord.MetadataUpdate

	authErr     error
	exchangeErr error
	userErr     error
	pushErr     error
}

func (f *fakeIdentity) AuthorizeURL() (string, string, error) {
	if f.authErr != nil {
		return "", "", f.authErr
	}
	return "https://discord.test/authorize?state=" + f.state, f.state, nil
}

func (f *fakeIdentity) ExchangeCode(_ context.Context, code string) (*discord.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchanged = append(f.exchanged, code)
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &discord.Token{AccessToken: "discord-access", RefreshToken: "discord-refresh", Scopes: discord.Scopes}, nil
}

func (f *fakeIdentity) User(context.Context, string) (*discord.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return &discord.User{ID: "80351110224678912", Username: "nelly"}, nil
}

func (f *fakeIdentity) PushMetadata(_ context.Context, _ string, update discord.MetadataUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, update)
	return f.pushErr
}

func (f *fakeIdentity) SuccessURL() string {
	return discord.SuccessURL
}

type fakeDevice struct {
	devices []plex.Device
	claims  int

	pinErr     error
	claimErr   error
	devicesErr error
	userErr    error
}

func (f *fakeDevice) RequestPIN(context.Context) (*plex.PIN, error) {
	if f.pinErr != nil {
		return nil, f.pinErr
	}
	return &plex.PIN{ID: 99, Code: "pincode"}, nil
}

func (f *fakeDevice) ClaimURL(pinID int, pinCode string) string {
	return "https://plex.test/auth#?code=" + pinCode
}

func (f *fakeDevice) ClaimPIN(context.Context, int, string) (string, error) {
	f.claims++
	if f.claimErr != nil {
		return "", f.claimErr
	}
	return "plex-token", nil
}

func (f *fakeDevice) Devices(context.Context, string) ([]plex.Device, error) {
	if f.devicesErr != nil {
		return nil, f.devicesErr
	}
	return f.devices, nil
}

func (f *fakeDevice) User(context.Context, string) (*plex.User, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return &plex.User{ID: 1234, Username: "nelly_plex"}, nil
}

type fakeStats struct {
	stats []tautulli.WatchTimeStat
	err   error
}

func (f *fakeStats) WatchTimeStats(context.Context, int, int) ([]tautulli.WatchTimeStat, error) {
	return f.stats, f.err
}

type fakeLinker struct {
	calls    int
	identity accounts.IdentityAccount
	device   accounts.DeviceAccount
	err      error
}

func (f *fakeLinker) LinkAccounts(_ context.Context, identity accounts.IdentityAccount, _ accounts.IdentityToken, device accounts.DeviceAccount, _ accounts.DeviceToken) error {
	f.calls++
	f.identity = identity
	f.device = device
	return f.err
}
