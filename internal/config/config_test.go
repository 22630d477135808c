package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.BlockNegativeSettlement)
	assert.Equal(t, 3, cfg.TxMaxRetries)
	assert.Equal(t, 10*time.Second, cfg.CollabTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("BLOCK_NEGATIVE_SETTLEMENT", "true")
	t.Setenv("NOTIFIER_WORKERS", "12")
	t.Setenv("COLLAB_TIMEOUT", "250ms")
	t.Setenv("TX_MAX_RETRIES", "not-a-number")

	cfg := Load()
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.BlockNegativeSettlement)
	assert.Equal(t, 12, cfg.NotifierWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.CollabTimeout)
	assert.Equal(t, 3, cfg.TxMaxRetries)
}
