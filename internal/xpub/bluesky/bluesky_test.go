package bluesky

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/blacktop/xpub/internal/store"
	"github.com/blacktop/xpub/internal/xpub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pds struct {
	*httptest.Server

	mu       sync.Mutex
	refresh  int
	records  []map[string]any
	password string
}

func newPDS(t *testing.T) *pds {
	t.Helper()
	p := &pds{password: "app-pass"}
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/com.atproto.server.createSession", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Identifier string `json:"identifier"`
			Password   string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if in.Password != p.password {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`))
			return
		}
		writeJSON(w, map[string]string{
			"accessJwt":  "access-1",
			"refreshJwt": "refresh-1",
			"handle":     in.Identifier,
			"did":        "did:plc:abc",
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.server.refreshSession", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer refresh-1", r.Header.Get("Authorization"))
		p.mu.Lock()
		p.refresh++
		p.mu.Unlock()
		writeJSON(w, map[string]string{
			"accessJwt":  "access-2",
			"refreshJwt": "refresh-2",
			"handle":     "alice.bsky.social",
			"did":        "did:plc:abc",
		})
	})
	mux.HandleFunc("/xrpc/com.atproto.repo.createRecord", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-2", r.Header.Get("Authorization"))
		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		p.mu.Lock()
		p.records = append(p.records, in)
		p.mu.Unlock()
		writeJSON(w, map[string]string{
			"uri": "at://did:plc:abc/app.bsky.feed.post/3kxyz",
			"cid": "bafyreib2rxk3rh6kzwq",
		})
	})

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

func TestFlow(t *testing.T) {
	srv := newPDS(t)
	flow := NewFlow(Config{})
	ctx := context.Background()
	id := xpub.PlatformID(providerName, srv.URL)

	reg, ok := flow.Registration(id)
	require.True(t, ok)
	assert.Equal(t, srv.URL, reg.ClientID)

	ch, err := flow.Challenge(ctx, reg)
	require.NoError(t, err)
	assert.Equal(t, appPasswordsURL, ch.URL)

	t.Run("Create Session", func(t *testing.T) {
		auth, err := flow.Exchange(ctx, reg, xpub.Challenge{RequestToken: "@alice.bsky.social"}, "app-pass")
		require.NoError(t, err)
		assert.Equal(t, "access-1", auth.AccessToken)
		assert.Equal(t, "refresh-1", auth.AccessTokenSecret)
		assert.Equal(t, "did:plc:abc", auth.Subject)
	})

	t.Run("Wrong Password", func(t *testing.T) {
		_, err := flow.Exchange(ctx, reg, xpub.Challenge{RequestToken: "alice.bsky.social"}, "nope")
		assert.ErrorContains(t, err, "login")
	})

	t.Run("Handle Required", func(t *testing.T) {
		_, err := flow.Exchange(ctx, reg, xpub.Challenge{}, "app-pass")
		require.ErrorAs(t, err, &xpub.ValidationError{})
	})
}

func TestDefaultHost(t *testing.T) {
	flow := NewFlow(Config{})
	reg, _ := flow.Registration("bluesky")
	assert.Equal(t, DefaultPDSURL, reg.ClientID)

	reg, _ = NewFlow(Config{PDSURL: "https://pds.example.com/"}).Registration("bluesky")
	assert.Equal(t, "https://pds.example.com", reg.ClientID)
}

func TestPostStatus(t *testing.T) {
	srv := newPDS(t)
	auths := store.NewMemory()
	c := New(auths)
	ctx := context.Background()
	auth := xpub.AuthContext{
		PlatformID:        xpub.PlatformID(providerName, srv.URL),
		ClientID:          srv.URL,
		AccessToken:       "access-1",
		AccessTokenSecret: "refresh-1",
		Subject:           "did:plc:abc",
	}

	uri, err := c.PostStatus(ctx, auth, "hello sky", nil)
	require.NoError(t, err)
	assert.Equal(t, "at://did:plc:abc/app.bsky.feed.post/3kxyz", uri)

	_, err = c.PostStatus(ctx, auth, "again", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.refresh, "session is refreshed once per process")

	require.Len(t, srv.records, 2)
	assert.Equal(t, "app.bsky.feed.post", srv.records[0]["collection"])
	assert.Equal(t, "did:plc:abc", srv.records[0]["repo"])
	record := srv.records[0]["record"].(map[string]any)
	assert.Equal(t, "hello sky", record["text"])

	saved, err := auths.FindAuthorization(ctx, auth.PlatformID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "refresh-2", saved.AccessTokenSecret)
}

func TestSessionRequired(t *testing.T) {
	_, err := New(nil).PostStatus(context.Background(), xpub.AuthContext{PlatformID: "bluesky"}, "x", nil)
	assert.Equal(t, xpub.KindCaller, xpub.Classify(err))
}

func TestEmbedImages(t *testing.T) {
	_, err := embedImages([]xpub.MediaHandle{{ID: "media-1"}})
	assert.ErrorContains(t, err, "media-1")

	images, err := embedImages(nil)
	require.NoError(t, err)
	assert.Empty(t, images)
}
