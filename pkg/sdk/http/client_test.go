package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_JSONAndForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/json":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "tok", r.Header.Get("x-xsrf-token"))
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"a":1}`, string(body))
			_, _ = w.Write([]byte(`{"status":"200"}`))
		case "/form":
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "submitOrder", r.PostForm.Get("action"))
			assert.Equal(t, "NLO", r.URL.Query().Get("sym"))
			_, _ = w.Write([]byte(`{"description":"ok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"nope"}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", Options{Headers: map[string]string{"x-xsrf-token": "tok"}})
	assert.Equal(t, srv.URL, c.Host())

	var out struct {
		Status string `json:"status"`
	}
	resp, err := c.DoRequest(context.Background(), http.MethodPost, "/json", &RequestOptions{Data: map[string]int{"a": 1}}, &out)
	require.NoError(t, ParseHTTPError(resp, err))
	assert.Equal(t, "200", out.Status)

	resp, err = c.DoRequest(context.Background(), http.MethodPost, "/form", &RequestOptions{
		FormData: map[string]string{"action": "submitOrder"},
		Params:   map[string]any{"sym": "NLO"},
	}, nil)
	require.NoError(t, ParseHTTPError(resp, err))

	resp, err = c.DoRequest(context.Background(), http.MethodGet, "/missing", nil, nil)
	herr := ParseHTTPError(resp, err)
	require.Error(t, herr)
	assert.Equal(t, http.StatusNotFound, StatusCode(herr))
}

func TestClient_CookiesSeeded(t *testing.T) {
	c := NewClient("http://example.invalid", Options{Cookies: []*http.Cookie{{Name: "XSRF-TOKEN", Value: "abc"}}})
	v, ok := c.Cookie("XSRF-TOKEN")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)
	_, ok = c.Cookie("missing")
	assert.False(t, ok)
}

func TestClient_UnsupportedMethod(t *testing.T) {
	c := NewClient("http://example.invalid", Options{})
	_, err := c.DoRequest(context.Background(), "PATCHY", "/", nil, nil)
	assert.Error(t, err)
}
