// Package oauth obtains app registrations and user tokens for every platform
// through a single AuthorizationFlow contract.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blacktop/xpub/internal/logutil"
	"github.com/blacktop/xpub/internal/xpub"
	"golang.org/x/sync/singleflight"
)

// Broker negotiates credentials per platform instance.
type Broker struct {
	store xpub.CredentialStore
	flows map[string]xpub.AuthorizationFlow

	// registering collapses concurrent first-time registrations of the same
	// platform id into one remote handshake.
	registering singleflight.Group
}

// New returns a Broker backed by store. flows is keyed by platform name.
func New(store xpub.CredentialStore, flows map[string]xpub.AuthorizationFlow) *Broker {
	return &Broker{store: store, flows: flows}
}

func (b *Broker) flow(platformID string) (xpub.AuthorizationFlow, error) {
	name, _ := xpub.ParsePlatformID(platformID)
	flow, ok := b.flows[name]
	if !ok {
		return nil, xpub.ValidationError{Provider: name, Reason: fmt.Sprintf("unsupported platform %q", platformID)}
	}
	return flow, nil
}

// lookup returns the known registration for platformID without contacting the platform.
func (b *Broker) lookup(ctx context.Context, flow xpub.AuthorizationFlow, platformID string) (*xpub.PlatformRegistration, error) {
	if pre, ok := flow.(xpub.Preregistered); ok {
		if reg, ok := pre.Registration(platformID); ok {
			return &reg, nil
		}
	}
	reg, err := b.store.FindRegistration(ctx, platformID)
	if err != nil {
		return nil, fmt.Errorf("find registration: %w", err)
	}
	return reg, nil
}

// EnsureRegistration returns the stored registration for platformID, registering
// the app with the remote platform first if needed.
func (b *Broker) EnsureRegistration(ctx context.Context, platformID string) (xpub.PlatformRegistration, error) {
	flow, err := b.flow(platformID)
	if err != nil {
		return xpub.PlatformRegistration{}, err
	}

	reg, err := b.lookup(ctx, flow, platformID)
	if err != nil {
		return xpub.PlatformRegistration{}, xpub.RegistrationError{PlatformID: platformID, Err: err}
	}
	if reg != nil {
		return *reg, nil
	}

	v, err, shared := b.registering.Do(platformID, func() (any, error) {
		// a concurrent caller may have finished registering since the lookup above
		if reg, err := b.store.FindRegistration(ctx, platformID); err == nil && reg != nil {
			return *reg, nil
		}

		logutil.Infof("registering platform: platform=%s", platformID)
		reg, err := flow.Register(ctx, platformID)
		if err != nil {
			logutil.Errorf("platform registration failed: platform=%s err=%v", platformID, err)
			return nil, xpub.RegistrationError{PlatformID: platformID, Err: err}
		}
		reg.PlatformID = platformID

		if err := b.store.SaveRegistration(ctx, reg); err != nil {
			logutil.Errorf("save registration failed: platform=%s err=%v", platformID, err)
			return nil, xpub.RegistrationError{PlatformID: platformID, Err: fmt.Errorf("save registration: %w", err)}
		}
		return reg, nil
	})
	if err != nil {
		return xpub.PlatformRegistration{}, err
	}
	if shared {
		logutil.Debugf("registration shared with concurrent caller: platform=%s", platformID)
	}
	return v.(xpub.PlatformRegistration), nil
}

// StartHandshake ensures registration and returns the consent challenge.
func (b *Broker) StartHandshake(ctx context.Context, platformID string) (xpub.Challenge, error) {
	flow, err := b.flow(platformID)
	if err != nil {
		return xpub.Challenge{}, err
	}
	reg, err := b.EnsureRegistration(ctx, platformID)
	if err != nil {
		return xpub.Challenge{}, b.authError(platformID, err)
	}

	ch, err := flow.Challenge(ctx, reg)
	if err != nil {
		logutil.Errorf("authorization challenge failed: platform=%s err=%v", platformID, err)
		return xpub.Challenge{}, b.authError(platformID, err)
	}
	logutil.Debugf("authorization challenge issued: platform=%s", platformID)
	return ch, nil
}

// AuthorizationURL returns the user-facing consent URL for platformID.
func (b *Broker) AuthorizationURL(ctx context.Context, platformID string) (string, error) {
	ch, err := b.StartHandshake(ctx, platformID)
	if err != nil {
		return "", err
	}
	return ch.URL, nil
}

// ExchangeCode trades an authorization code for tokens. The platform must
// already be registered.
func (b *Broker) ExchangeCode(ctx context.Context, platformID, code string) (xpub.UserAuthorization, error) {
	return b.exchange(ctx, platformID, xpub.Challenge{}, code)
}

// CompleteHandshake trades a request token pair and the user's PIN for tokens.
func (b *Broker) CompleteHandshake(ctx context.Context, platformID, requestToken, requestSecret, pin string) (xpub.UserAuthorization, error) {
	return b.exchange(ctx, platformID, xpub.Challenge{RequestToken: requestToken, RequestSecret: requestSecret}, pin)
}

func (b *Broker) exchange(ctx context.Context, platformID string, ch xpub.Challenge, verifier string) (xpub.UserAuthorization, error) {
	flow, err := b.flow(platformID)
	if err != nil {
		return xpub.UserAuthorization{}, err
	}
	verifier = strings.TrimSpace(verifier)
	if verifier == "" {
		name, _ := xpub.ParsePlatformID(platformID)
		return xpub.UserAuthorization{}, xpub.ValidationError{Provider: name, Reason: "authorization code is required"}
	}

	reg, err := b.lookup(ctx, flow, platformID)
	if err != nil {
		return xpub.UserAuthorization{}, b.authError(platformID, err)
	}
	if reg == nil {
		logutil.Errorf("exchange for unregistered platform: platform=%s", platformID)
		return xpub.UserAuthorization{}, xpub.NotRegisteredError{PlatformID: platformID}
	}

	auth, err := flow.Exchange(ctx, *reg, ch, verifier)
	if err != nil {
		logutil.Errorf("token exchange failed: platform=%s err=%v", platformID, err)
		return xpub.UserAuthorization{}, b.authError(platformID, err)
	}
	auth.PlatformID = platformID
	if auth.ObtainedAt.IsZero() {
		auth.ObtainedAt = time.Now().UTC()
	}

	if as, ok := b.store.(xpub.AuthorizationStore); ok {
		if err := as.SaveAuthorization(ctx, auth); err != nil {
			return xpub.UserAuthorization{}, b.authError(platformID, fmt.Errorf("save authorization: %w", err))
		}
	}
	logutil.Infof("platform authorized: platform=%s", platformID)
	return auth, nil
}

// AuthContext assembles the signing context for platformID from the stored
// registration and user authorization.
func (b *Broker) AuthContext(ctx context.Context, platformID string) (xpub.AuthContext, error) {
	flow, err := b.flow(platformID)
	if err != nil {
		return xpub.AuthContext{}, err
	}
	reg, err := b.lookup(ctx, flow, platformID)
	if err != nil {
		return xpub.AuthContext{}, err
	}
	if reg == nil {
		return xpub.AuthContext{}, xpub.NotRegisteredError{PlatformID: platformID}
	}

	as, ok := b.store.(xpub.AuthorizationStore)
	if !ok {
		return xpub.AuthContext{}, errors.New("credential store does not keep user authorizations")
	}
	auth, err := as.FindAuthorization(ctx, platformID)
	if err != nil {
		return xpub.AuthContext{}, fmt.Errorf("find authorization: %w", err)
	}
	if auth == nil {
		name, _ := xpub.ParsePlatformID(platformID)
		return xpub.AuthContext{}, xpub.ValidationError{Provider: name, Reason: fmt.Sprintf("%s is not authorized yet", platformID)}
	}
	return xpub.NewAuthContext(*reg, *auth), nil
}

// authError wraps err as an AuthorizationError unless it already is one.
func (b *Broker) authError(platformID string, err error) error {
	var aerr xpub.AuthorizationError
	if errors.As(err, &aerr) {
		return err
	}
	return xpub.AuthorizationError{PlatformID: platformID, Err: err}
}
