package server

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOriginChecker_AllowsConfiguredOrigin(t *testing.T) {
	req := require.New(t)
	oc := newOriginChecker([]string{"http://localhost:8080"}, discardLogger())

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://localhost:8080")
	req.True(oc.check(r))

	// Scheme and host comparison is case-insensitive.
	r.Header.Set("Origin", "HTTP://LOCALHOST:8080")
	req.True(oc.check(r))
}

func TestOriginChecker_BlocksUnknownAndMissingOrigins(t *testing.T) {
	req := require.New(t)
	oc := newOriginChecker([]string{"http://localhost:8080"}, discardLogger())

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://evil.example.com")
	req.False(oc.check(r))

	r.Header.Del("Origin")
	req.False(oc.check(r))
}

func TestOriginChecker_Wildcard(t *testing.T) {
	req := require.New(t)
	oc := newOriginChecker([]string{"*"}, discardLogger())

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "https://anything.example.com")
	req.True(oc.check(r))

	// A wildcard still requires a parseable Origin header.
	r.Header.Set("Origin", "not a url")
	req.False(oc.check(r))
}

func TestOriginChecker_SkipsInvalidConfigEntries(t *testing.T) {
	req := require.New(t)
	oc := newOriginChecker([]string{"", "   ", "not a url", "http://ok.example.com"}, discardLogger())

	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Origin", "http://ok.example.com")
	req.True(oc.check(r))
	req.Len(oc.allowed, 1)
}
