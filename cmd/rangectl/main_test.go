package main

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rangescan/internal/config"
	"rangescan/internal/core/ranges"
	"rangescan/internal/domain/admin"
	"rangescan/internal/domain/auth"
	"rangescan/internal/infrastructure/sink"
)

func TestFlags(t *testing.T) {
	named, positional := flags([]string{"--key", "2626", "--separator", "extra", "--width", "5"}, "separator")

	assert.Equal(t, map[string]string{"key": "2626", "separator": "true", "width": "5"}, named)
	assert.Equal(t, []string{"extra"}, positional)
}

func TestParseNewRange(t *testing.T) {
	in, err := parseNewRange([]string{"--key", "2626", "--width", "5", "--separator", "--start", "41217"})
	require.NoError(t, err)
	assert.Equal(t, ranges.NewRange{Key: "2626", DigitWidth: 5, HasSeparator: true, StartingNumber: 41217}, in)

	_, err = parseNewRange([]string{"--key", "2626"})
	assert.Error(t, err)

	_, err = parseNewRange([]string{"--key", "2626", "--width", "five"})
	assert.Error(t, err)
}

func TestPrintListing(t *testing.T) {
	var out bytes.Buffer
	printListing(&out, admin.Listing{
		Ranges:   []ranges.Range{{Key: "2626", DigitWidth: 5, LastAllocated: 41217, Status: ranges.StatusPending}},
		Rejected: []ranges.Rejection{{Key: "BAD", Err: errors.New("digit_width is missing")}},
	})

	assert.Contains(t, out.String(), "KEY")
	assert.Contains(t, out.String(), "58783")
	assert.Contains(t, out.String(), "MALFORMED: digit_width is missing")
}

func TestIssueToken(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "secret"
	cfg.Auth.Issuer = "rangescan"

	var out bytes.Buffer
	require.NoError(t, issueToken(cfg, []string{"--subject", "ops", "--role", "operator"}, &out))

	svc, err := auth.NewJWTService(auth.DefaultJWTConfig("secret"))
	require.NoError(t, err)
	op, err := svc.ValidateToken(string(bytes.TrimSpace(out.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, "ops", op.Subject)
	assert.Equal(t, []string{auth.RoleOperator}, op.Roles)

	assert.Error(t, issueToken(cfg, nil, &out))
	cfg.Auth.JWTSecret = ""
	assert.Error(t, issueToken(cfg, []string{"--subject", "ops"}, &out))
}

func TestShowResults(t *testing.T) {
	cfg := &config.Config{}
	cfg.Sink.Backend = sink.BackendFile
	cfg.Sink.Directory = t.TempDir()

	fs, err := sink.NewFileSink(cfg.Sink.Directory, false)
	require.NoError(t, err)
	require.NoError(t, fs.EnsureDestination(context.Background(), "2626"))
	require.NoError(t, fs.Append(context.Background(), "2626", ranges.Record{Serial: 7, Identifier: "2626 00007", Payload: "9876543210"}))

	var out bytes.Buffer
	require.NoError(t, showResults(cfg, []string{"2626"}, &out))
	assert.Contains(t, out.String(), "Generated ID")
	assert.Contains(t, out.String(), "9876543210")

	cfg.Sink.Backend = sink.BackendPostgres
	assert.Error(t, showResults(cfg, []string{"2626"}, &out))
}
