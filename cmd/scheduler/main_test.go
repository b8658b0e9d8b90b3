package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"rangescan/internal/config"
)

func TestSchedulerConfig_LookupBudgetCoversRetries(t *testing.T) {
	cfg := &config.Config{}
	cfg.Lookup.MaxAttempts = 3
	cfg.Lookup.Timeout = 30 * time.Second
	cfg.Lookup.MaxInterval = 10 * time.Second
	cfg.Sink.Timeout = 15 * time.Second
	cfg.Scheduler.IdleInterval = time.Minute

	sc := schedulerConfig(cfg)

	assert.Equal(t, 110*time.Second, sc.LookupTimeout)
	assert.Equal(t, 15*time.Second, sc.SinkTimeout)
	assert.Equal(t, time.Minute, sc.IdleInterval)
}

func TestLookupConfig(t *testing.T) {
	lc := lookupConfig(config.LookupConfig{Enabled: true, FormField: "ukscno", PayloadDigits: 10, MaxAttempts: 3})

	assert.True(t, lc.Enabled)
	assert.Equal(t, "ukscno", lc.FormField)
	assert.Equal(t, 10, lc.PayloadDigits)
	assert.Equal(t, 3, lc.MaxAttempts)
}
