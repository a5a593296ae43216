package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSandbox(t *testing.T) {
	cfg := &Config{port: 8080}
	assert.NoError(t, cfg.validateSandbox())
	assert.Equal(t, "http", cfg.scheme())

	cfg.tlsCert = "cert.pem"
	assert.ErrorContains(t, cfg.validateSandbox(), "--tls-key")

	cfg.tlsKey = "key.pem"
	assert.NoError(t, cfg.validateSandbox())
	assert.Equal(t, "https", cfg.scheme())

	cfg.port = 70000
	assert.ErrorContains(t, cfg.validateSandbox(), "invalid port")
}

func TestValidateLobby(t *testing.T) {
	for raw, ok := range map[string]bool{
		"ws://127.0.0.1:8080/ws": true,
		"wss://example.com/ws":   true,
		"http://example.com/ws":  false,
		"ws:///ws":               false,
		"::":                     false,
	} {
		err := (&Config{wsURL: raw}).validateLobby()
		if ok {
			assert.NoError(t, err, raw)
		} else {
			assert.Error(t, err, raw)
		}
	}
}

func TestValidateConsole(t *testing.T) {
	cfg := &Config{apiURL: "http://localhost:9998", timeout: time.Second, pageLimit: 6}
	assert.NoError(t, cfg.validateConsole())

	cfg.pageLimit = 0
	assert.ErrorContains(t, cfg.validateConsole(), "page limit")

	cfg.pageLimit = 6
	cfg.timeout = 0
	assert.ErrorContains(t, cfg.validateConsole(), "timeout")

	cfg.timeout = time.Second
	cfg.apiURL = "ws://localhost:9998"
	assert.ErrorContains(t, cfg.validateConsole(), "--api-url")
}

func TestBindEnv(t *testing.T) {
	t.Setenv("BATTLEBOX_PORT", "9090")
	t.Setenv("BATTLEBOX_TLS_CERT", "cert.pem")
	t.Setenv("BATTLEBOX_BIND", "10.0.0.1")

	v := viper.New()
	v.SetEnvPrefix("BATTLEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var port int
	var cert, bind string

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.IntVar(&port, "port", 8080, "")
	fs.StringVar(&cert, "tls-cert", "", "")
	fs.StringVar(&bind, "bind", "0.0.0.0", "")
	require.NoError(t, fs.Parse([]string{"--bind", "127.0.0.1"}))

	bindEnv(v, fs)

	assert.Equal(t, 9090, port)
	assert.Equal(t, "cert.pem", cert)
	assert.Equal(t, "127.0.0.1", bind, "flags given on the command line win over the environment")
}

func TestCatalogCommand(t *testing.T) {
	var out bytes.Buffer

	cmd := newCmd(&Config{})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"catalog"})

	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "POST auth/login\n")
	assert.Contains(t, out.String(), "POST match/listUserWeb\n")
	assert.Equal(t, 92, strings.Count(out.String(), "\n"))
}

func TestVersionFlag(t *testing.T) {
	var out bytes.Buffer

	cmd := newCmd(&Config{})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "battlebox v"+releaseVersion+"\n", out.String())
}
