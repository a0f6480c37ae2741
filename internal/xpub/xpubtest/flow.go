package xpubtest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/blacktop/xpub/internal/xpub"
)

// Flow is a counting AuthorizationFlow.
type Flow struct {
	FailRegister  error
	FailChallenge error
	FailExchange  error
	// RegisterDelay widens the window for concurrent registration tests.
	RegisterDelay time.Duration

	registers  atomic.Int64
	challenges atomic.Int64
	exchanges  atomic.Int64
}

// Registers reports how many remote registrations were performed.
func (f *Flow) Registers() int { return int(f.registers.Load()) }

// Challenges reports how many challenges were requested.
func (f *Flow) Challenges() int { return int(f.challenges.Load()) }

// Exchanges reports how many exchanges were attempted.
func (f *Flow) Exchanges() int { return int(f.exchanges.Load()) }

func (f *Flow) Register(ctx context.Context, platformID string) (xpub.PlatformRegistration, error) {
	n := f.registers.Add(1)
	if f.RegisterDelay > 0 {
		time.Sleep(f.RegisterDelay)
	}
	if f.FailRegister != nil {
		return xpub.PlatformRegistration{}, f.FailRegister
	}
	return xpub.PlatformRegistration{
		PlatformID:   platformID,
		ClientID:     fmt.Sprintf("client-%d", n),
		ClientSecret: fmt.Sprintf("secret-%d", n),
	}, nil
}

func (f *Flow) Challenge(ctx context.Context, reg xpub.PlatformRegistration) (xpub.Challenge, error) {
	f.challenges.Add(1)
	if f.FailChallenge != nil {
		return xpub.Challenge{}, f.FailChallenge
	}
	return xpub.Challenge{
		URL:           reg.PlatformID + "/oauth/authorize?client_id=" + reg.ClientID,
		RequestToken:  "request-token",
		RequestSecret: "request-secret",
	}, nil
}

func (f *Flow) Exchange(ctx context.Context, reg xpub.PlatformRegistration, ch xpub.Challenge, verifier string) (xpub.UserAuthorization, error) {
	f.exchanges.Add(1)
	if f.FailExchange != nil {
		return xpub.UserAuthorization{}, f.FailExchange
	}
	return xpub.UserAuthorization{
		PlatformID:        reg.PlatformID,
		AccessToken:       "access-" + verifier,
		AccessTokenSecret: ch.RequestSecret,
		ObtainedAt:        time.Now(),
	}, nil
}

// StaticFlow is a Flow whose registration comes from configuration.
type StaticFlow struct {
	Flow
	Reg xpub.PlatformRegistration
}

func (f *StaticFlow) Registration(platformID string) (xpub.PlatformRegistration, bool) {
	if f.Reg.ClientID == "" {
		return xpub.PlatformRegistration{}, false
	}
	reg := f.Reg
	reg.PlatformID = platformID
	return reg, true
}
