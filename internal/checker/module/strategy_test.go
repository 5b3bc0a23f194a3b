package module

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/emersion/go-webdav"
	"github.com/hashicorp/go-plugin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/prosecheck/internal/shared/infrastructure/security"
	"github.com/felixgeelhaar/prosecheck/pkg/modulesdk"
)

func writeRuleset(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "ruleset.yaml")
	require.NoError(t, os.WriteFile(path, DefaultRuleset(), 0o644))
	return path
}

func TestFileStrategy(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleset(t, dir)

	t.Run("loads ruleset", func(t *testing.T) {
		m, err := NewFileStrategy("bundled", path, "").Load(context.Background())
		require.NoError(t, err)
		defer m.Close()
		assert.Equal(t, "prosecheck-en", m.Info().Name)
		assert.Equal(t, "file:"+path, m.Info().Source)
	})

	t.Run("verifies checksum", func(t *testing.T) {
		_, err := NewFileStrategy("bundled", path, security.Checksum(DefaultRuleset())).Load(context.Background())
		require.NoError(t, err)

		_, err = NewFileStrategy("bundled", path, security.Checksum([]byte("other"))).Load(context.Background())
		assert.ErrorIs(t, err, security.ErrChecksumMismatch)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewFileStrategy("alternate", filepath.Join(dir, "missing.yaml"), "").Load(context.Background())
		assert.Error(t, err)
	})

	t.Run("no path", func(t *testing.T) {
		_, err := NewFileStrategy("alternate", "", "").Load(context.Background())
		assert.Error(t, err)
	})
}

type breakerRecorder struct {
	mu     sync.Mutex
	states []string
}

func (r *breakerRecorder) RecordCircuitBreakerChange(_, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func TestHTTPStrategy_Loads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(DefaultRuleset())
	}))
	defer srv.Close()

	s := NewHTTPStrategy(HTTPConfig{URL: srv.URL, Checksum: security.Checksum(DefaultRuleset())}, nil, testLogger())
	m, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.URL, m.Info().Source)
	assert.Equal(t, "remote", s.Name())
}

func TestHTTPStrategy_OAuthClientCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "secret-token",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/ruleset", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write(DefaultRuleset())
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewHTTPStrategy(HTTPConfig{
		URL:               srv.URL + "/ruleset",
		OAuthClientID:     "prosecheck",
		OAuthClientSecret: "s3cret",
		OAuthTokenURL:     srv.URL + "/token",
	}, nil, testLogger())

	_, err := s.Load(context.Background())
	require.NoError(t, err)

	anonymous := NewHTTPStrategy(HTTPConfig{URL: srv.URL + "/ruleset"}, nil, testLogger())
	_, err = anonymous.Load(context.Background())
	assert.ErrorContains(t, err, "401")
}

func TestHTTPStrategy_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rec := &breakerRecorder{}
	s := NewHTTPStrategy(HTTPConfig{URL: srv.URL, FailureThreshold: 2}, rec, testLogger())

	for i := 0; i < 2; i++ {
		_, err := s.Load(context.Background())
		assert.ErrorContains(t, err, "unexpected status")
	}
	assert.Equal(t, "open", s.State())

	_, err := s.Load(context.Background())
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, []string{"open"}, rec.states)
}

func TestWebDAVStrategy(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "prosecheck"), 0o755))
	writeRuleset(t, filepath.Join(dir, "prosecheck"))

	handler := &webdav.Handler{FileSystem: webdav.LocalFileSystem(dir)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "writer" || pass != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	defer srv.Close()

	s := NewWebDAVStrategy(WebDAVConfig{Endpoint: srv.URL, Username: "writer", Password: "pw"})
	m, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "prosecheck-en", m.Info().Name)

	_, err = NewWebDAVStrategy(WebDAVConfig{Endpoint: srv.URL}).Load(context.Background())
	assert.Error(t, err)
}

func TestPluginModule_OverRPC(t *testing.T) {
	rs, err := ParseRuleset(DefaultRuleset())
	require.NoError(t, err)
	analyzer, err := rs.Compile()
	require.NoError(t, err)

	impl := ServeAnalyzer{Analyzer: analyzer, Info: Info{Name: rs.Name, Version: rs.Version, Language: rs.Language, RuleCount: rs.RuleCount()}}
	client, _ := plugin.TestPluginRPCConn(t, modulesdk.PluginMap(impl), nil)
	defer client.Close()

	raw, err := client.Dispense(modulesdk.PluginName)
	require.NoError(t, err)

	var killed atomic.Bool
	m, err := newPluginModule(raw, "/opt/prosecheck/module", func() { killed.Store(true) })
	require.NoError(t, err)
	assert.Equal(t, "prosecheck-en", m.Info().Name)
	assert.Equal(t, "plugin:/opt/prosecheck/module", m.Info().Source)

	require.NoError(t, runSelfTest(context.Background(), m))

	require.NoError(t, m.Close())
	assert.True(t, killed.Load())
}

func TestPluginModule_RejectsWrongType(t *testing.T) {
	_, err := newPluginModule("not an analyzer", "x", nil)
	assert.Error(t, err)
}

func TestPluginStrategy_RejectsBadBinary(t *testing.T) {
	_, err := NewPluginStrategy("relative/module", "", testLogger()).Load(context.Background())
	assert.ErrorContains(t, err, "must be absolute")

	dir := t.TempDir()
	bin := filepath.Join(dir, "module")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))
	_, err = NewPluginStrategy(bin, security.Checksum([]byte("other")), testLogger()).Load(context.Background())
	assert.ErrorIs(t, err, security.ErrChecksumMismatch)
}

func TestBuildStrategies_Order(t *testing.T) {
	names := func(ss []Strategy) []string {
		out := make([]string, len(ss))
		for i, s := range ss {
			out[i] = s.Name()
		}
		return out
	}

	all := BuildStrategies(StrategyConfig{
		BundledPath:   "/a.yaml",
		AlternatePath: "/b.yaml",
		PluginPath:    "/bin/module",
		RemoteURL:     "https://rules.example.com/en.yaml",
		WebDAVURL:     "https://dav.example.com",
	}, nil, testLogger())
	assert.Equal(t, []string{"bundled", "alternate", "plugin", "remote", "webdav", "embedded"}, names(all))

	assert.Equal(t, []string{"embedded"}, names(BuildStrategies(StrategyConfig{}, nil, nil)))
	assert.Empty(t, BuildStrategies(StrategyConfig{DisableEmbedded: true}, nil, nil))
}

func TestBuildStrategies_SeparateChecksums(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleset(t, dir)
	bin := filepath.Join(dir, "module")
	binary := []byte("#!/bin/sh\nexit 1\n")
	require.NoError(t, os.WriteFile(bin, binary, 0o755))

	strategies := BuildStrategies(StrategyConfig{
		BundledPath:    path,
		Checksum:       security.Checksum(DefaultRuleset()),
		PluginPath:     bin,
		PluginChecksum: security.Checksum(binary),
	}, nil, testLogger())
	require.Len(t, strategies, 3)

	m, err := strategies[0].Load(context.Background())
	require.NoError(t, err)
	m.Close()

	ps, ok := strategies[1].(*PluginStrategy)
	require.True(t, ok)
	assert.Equal(t, security.Checksum(binary), ps.checksum)
	require.NoError(t, security.VerifyFileChecksum(bin, ps.checksum))
}
