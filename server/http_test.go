package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTP_StartServeStop(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
	srv := NewHTTP(mux, WithAddr("127.0.0.1:0"), WithName("api"))
	assert.Equal(t, "api", srv.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "127.0.0.1:0" }, time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	require.NoError(t, srv.Stop(context.Background()))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestHTTP_Validation(t *testing.T) {
	assert.ErrorIs(t, NewHTTP(nil).Start(context.Background()), ErrNilHandler)
	assert.ErrorIs(t, NewHTTP(http.NewServeMux(), WithAddr("")).Start(context.Background()), ErrAddrEmpty)
	assert.NoError(t, NewHTTP(http.NewServeMux()).Stop(context.Background()))
}

func TestConfig(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.Equal(t, DefaultIdleTimeout, cfg.IdleTimeout)
	assert.NoError(t, cfg.Validate())

	o := newOptions([]Option{WithConfig(Config{Addr: "127.0.0.1:9000", ReadTimeout: time.Second})})
	assert.Equal(t, "127.0.0.1:9000", o.cfg.Addr)
	assert.Equal(t, time.Second, o.cfg.ReadTimeout)
	assert.Equal(t, DefaultWriteTimeout, o.cfg.WriteTimeout)

	assert.ErrorIs(t, (&Config{}).Validate(), ErrAddrEmpty)
}
