// Copyright (c) 2021 Winlin
//
// SPDX-License-Identifier: MIT
package whip

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ossrs/go-oryx-lib/logger"
	"github.com/stretchr/testify/require"
)

func TestClient_Do(t *testing.T) {
	ctx := logger.WithContext(context.Background())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := ioutil.ReadAll(r.Body)

		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Authorization", r.Header.Get("Authorization"))
		w.Header().Set("X-User-Agent", r.Header.Get("User-Agent"))
		w.Header().Set("X-Content-Type", r.Header.Get("Content-Type"))
		w.Header().Set("X-If-Match", r.Header.Get("If-Match"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(b)
	}))
	defer server.Close()

	var observed []int
	client := NewClient(WithToken("secret"), WithObserver(func(method string, status int, duration time.Duration, err error) {
		require.Equal(t, http.MethodPatch, method)
		require.NoError(t, err)
		observed = append(observed, status)
	}))

	res, err := client.Do(ctx, &Request{
		Method: http.MethodPatch, URL: server.URL, ContentType: ContentTypeTrickleICE,
		Header: http.Header{"If-Match": []string{"*"}}, Body: []byte("a=ice-ufrag:u\r\n"),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.Status)
	require.Equal(t, "a=ice-ufrag:u\r\n", string(res.Body))
	require.Equal(t, http.MethodPatch, res.Header.Get("X-Method"))
	require.Equal(t, "Bearer secret", res.Header.Get("X-Authorization"))
	require.Equal(t, DefaultUserAgent, res.Header.Get("X-User-Agent"))
	require.Equal(t, ContentTypeTrickleICE, res.Header.Get("X-Content-Type"))
	require.Equal(t, "*", res.Header.Get("X-If-Match"))
	require.Equal(t, []int{http.StatusCreated}, observed)
}

func TestClient_NoBody(t *testing.T) {
	ctx := logger.WithContext(context.Background())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type", r.Header.Get("Content-Type"))
		w.Header().Set("X-Authorization", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer server.Close()

	res, err := NewClient().Do(ctx, &Request{Method: http.MethodGet, URL: server.URL, ContentType: ContentTypeSDP})
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, res.Status)
	require.Empty(t, res.Header.Get("X-Content-Type"))
	require.Empty(t, res.Header.Get("X-Authorization"))
	require.Empty(t, res.Body)
}

func TestClient_NoRedirect(t *testing.T) {
	ctx := logger.WithContext(context.Background())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusTemporaryRedirect)
	}))
	defer server.Close()

	res, err := NewClient().Do(ctx, &Request{Method: http.MethodPost, URL: server.URL, Body: []byte("v=0")})
	require.NoError(t, err)
	require.Equal(t, http.StatusTemporaryRedirect, res.Status)
	require.Equal(t, "/elsewhere", res.Header.Get("Location"))
}

func TestClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background()))
	cancel()

	var observed error
	client := NewClient(WithObserver(func(method string, status int, duration time.Duration, err error) {
		observed = err
	}))

	_, err := client.Do(ctx, &Request{Method: http.MethodOptions, URL: "http://127.0.0.1:1/whip"})
	require.Error(t, err)
	require.Error(t, observed)
}

func TestResolveLocation(t *testing.T) {
	for _, c := range []struct {
		endpoint, location, expect string
	}{
		{"http://localhost:8080/whip/endpoint", "/whip/resource/abc123", "http://localhost:8080/whip/resource/abc123"},
		{"http://localhost:8080/whip/endpoint", "resource/abc123", "http://localhost:8080/whip/resource/abc123"},
		{"http://localhost:8080/whip/endpoint", "https://cdn.example.com/r/1", "https://cdn.example.com/r/1"},
		{"https://localhost/whip/endpoint?token=x", "/r/1?id=2", "https://localhost/r/1?id=2"},
	} {
		r, err := ResolveLocation(c.endpoint, c.location)
		require.NoError(t, err)
		require.Equal(t, c.expect, r)
	}

	_, err := ResolveLocation("http://localhost:8080/whip/endpoint", "")
	require.Error(t, err)
}
