package clickhouse

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"
)

func TestBuildDSN(t *testing.T) {
	cfg := ClientConfig{
		Host:         "ch.local",
		Port:         9000,
		Database:     "papertrade",
		User:         "trader",
		Password:     "p@ss",
		DialTimeout:  2 * time.Second,
		MaxExecTime:  30 * time.Second,
		AsyncInsert:  true,
		WaitForAsync: true,
	}
	u, err := url.Parse(buildDSN(cfg))
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	if u.Scheme != "clickhouse" || u.Host != "ch.local:9000" || u.Path != "/papertrade" {
		t.Fatalf("unexpected dsn %s", u)
	}
	if pw, _ := u.User.Password(); pw != "p@ss" || u.User.Username() != "trader" {
		t.Fatalf("credentials not preserved: %s", u.User)
	}
	q := u.Query()
	if q.Get("dial_timeout") != "2s" || q.Get("max_execution_time") != "30" {
		t.Fatalf("unexpected query %v", q)
	}
	if q.Get("async_insert") != "1" || q.Get("wait_for_async_insert") != "1" {
		t.Fatalf("async insert flags missing: %v", q)
	}
	if q.Has("read_timeout") {
		t.Fatalf("zero read timeout must be omitted")
	}
}

func TestBuildDSNHTTP(t *testing.T) {
	u, err := url.Parse(buildDSN(ClientConfig{Host: "h", Port: 8123, Database: "d", UseHTTP: true}))
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	if u.Scheme != "http" {
		t.Fatalf("expected http scheme, got %s", u.Scheme)
	}
}

func TestNewClientRequiresHost(t *testing.T) {
	if _, err := NewClient(context.Background()); !errors.Is(err, ErrNoHost) {
		t.Fatalf("expected ErrNoHost, got %v", err)
	}
}

func TestOptionsKeepDefaults(t *testing.T) {
	cfg := ClientConfig{Port: 9000, Database: "default", DialTimeout: time.Second}
	for _, opt := range []ClientOption{WithPort(0), WithDatabase(""), WithTimeouts(0, 3*time.Second, 0)} {
		opt(&cfg)
	}
	if cfg.Port != 9000 || cfg.Database != "default" || cfg.DialTimeout != time.Second || cfg.ReadTimeout != 3*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
