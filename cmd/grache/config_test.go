package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	cachekey "github.com/always-cache/grache/pkg/cache-key"
)

func envOf(values map[string]string) func(string) string {
	return func(name string) string {
		return values[name]
	}
}

func writeConfig(t *testing.T, content string) string {
	filename := filepath.Join(t.TempDir(), "grache.yml")
	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	config, err := loadConfig(fs, "", envOf(nil))
	if err != nil {
		t.Fatal(err)
	}
	if config.Port != 3333 || config.Upstream != "http://127.0.0.1:3000/shop-api" || config.Cache != "redis" {
		t.Fatalf("Config is %+v", config)
	}
	if config.Redis.Host != "127.0.0.1:6379" {
		t.Fatalf("Redis host is %s", config.Redis.Host)
	}
}

func TestPrecedence(t *testing.T) {
	filename := writeConfig(t, `
port: 4000
upstream: http://file.example.com/graphql
cache: sqlite
db: file.db
redis:
  host: file:6379
`)
	env := envOf(map[string]string{
		"PORT":       "5000",
		"REDIS_HOST": "env:6379",
		"REDIS_DB":   "2",
	})
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.IntVar(&portFlag, "port", 3333, "")
	fs.StringVar(&cacheFlag, "cache", "redis", "")
	if err := fs.Parse([]string{"-port", "6000"}); err != nil {
		t.Fatal(err)
	}

	config, err := loadConfig(fs, filename, env)
	if err != nil {
		t.Fatal(err)
	}
	if config.Port != 6000 {
		t.Fatalf("Port is %d", config.Port)
	}
	if config.Upstream != "http://file.example.com/graphql" {
		t.Fatalf("Upstream is %s", config.Upstream)
	}
	// unset flags do not override
	if config.Cache != "sqlite" || config.DB != "file.db" {
		t.Fatalf("Cache is %s (%s)", config.Cache, config.DB)
	}
	if config.Redis.Host != "env:6379" || config.Redis.DB != 2 {
		t.Fatalf("Redis config is %+v", config.Redis)
	}
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"bad cache":    "cache: postgres\n",
		"bad upstream": "upstream: not a url\n",
		"bad port":     "port: 70000\n",
		"bad auth":     "auth:\n  scheme: basic\n",
		"no db":        "cache: sqlite\ndb: \"\"\n",
	}
	for name, content := range cases {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		if _, err := loadConfig(fs, writeConfig(t, content), envOf(nil)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestInvalidEnv(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if _, err := loadConfig(fs, "", envOf(map[string]string{"REDIS_DB": "one"})); err == nil {
		t.Fatal("Expected error")
	}
}

func TestMissingConfigFile(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	if _, err := loadConfig(fs, filepath.Join(t.TempDir(), "missing.yml"), envOf(nil)); err == nil {
		t.Fatal("Expected error")
	}
}

func TestCreateAuth(t *testing.T) {
	if _, ok := createAuth(AuthConfig{Scheme: "bearer"}).(cachekey.BearerAuth); !ok {
		t.Fatal("Expected bearer auth")
	}
	auth, ok := createAuth(AuthConfig{Scheme: "cookie", TokenCookie: "tok"}).(cachekey.CookieAuth)
	if !ok || auth.TokenCookie != "tok" || auth.SignatureCookie != "session_sig" {
		t.Fatalf("Auth is %+v", auth)
	}
}
