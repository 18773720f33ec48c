package settlement

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lunorise.com/internal/settlement/service"
	"lunorise.com/internal/settlement/webhook"
	"lunorise.com/pkg/config"
)

func TestNormalize_Defaults(t *testing.T) {
	var c Cfg
	c.Normalize()

	assert.Equal(t, ServiceName, c.Name)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, "mysql", c.Db.Type)
	assert.Equal(t, 22*time.Hour, c.Income.Cadence)
	assert.Equal(t, 100, c.Income.BatchSize)
	assert.Equal(t, time.Minute, c.Income.Interval)
	assert.Equal(t, 2*time.Minute, c.Income.LockTTL)
	assert.Equal(t, "lock:process_income_events", c.Income.LockKey)
	assert.Equal(t, int64(webhook.DefaultMaxBodyBytes), c.Webhook.MaxBodyBytes)
	assert.Equal(t, service.DefaultRatesConfig(), c.Rates)
	assert.Nil(t, c.EtcdConfig())
}

func TestLoad_FromYAML(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`name: settlement-service
http:
  addr: ":9000"
db:
  type: postgres
  source_name: "postgres://u:p@localhost/lr"
etcd:
  enabled: true
  endpoints: ["127.0.0.1:2379"]
gateways:
  basepay:
    secret: bp
    allowed_ips: ["203.0.113.0/24"]
    enforce_allowlist: true
rates:
  bonus_by_method:
    crypto: 0.07
  referral_levels: [0.1, 0.05]
income:
  enabled: true
  cadence: 12h
  interval: 30s
breaker:
  default:
    trip_consecutive_failures: 3
    timeout: 15s
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ServiceName+".yaml"), yaml, 0o644))

	var c Cfg
	_, err := config.LoadFrom(ServiceName, &c, dir)
	require.NoError(t, err)
	c.Normalize()

	assert.Equal(t, ":9000", c.HTTP.Addr)
	assert.Equal(t, "postgres", c.Db.Type)
	require.Contains(t, c.Gateways, "basepay")
	assert.True(t, c.Gateways["basepay"].EnforceAllowlist)
	assert.Equal(t, []string{"203.0.113.0/24"}, c.Gateways["basepay"].AllowedIPs)
	assert.Equal(t, 0.07, c.Rates.BonusByMethod["crypto"])
	assert.Equal(t, []float64{0.1, 0.05}, c.Rates.ReferralLevels)
	assert.Equal(t, 12*time.Hour, c.Income.Cadence)
	assert.Equal(t, 30*time.Second, c.Income.Interval)
	assert.Equal(t, time.Minute, c.Income.LockTTL, "默认两倍 interval")
	assert.Equal(t, uint32(3), c.Breaker.Default.TripConsecutiveFailures)
	assert.Equal(t, 15*time.Second, c.Breaker.Default.Timeout)

	ec := c.EtcdConfig()
	require.NotNil(t, ec)
	assert.Equal(t, []string{"127.0.0.1:2379"}, ec.Endpoints)
	assert.Equal(t, "/services", ec.ServicePrefix)
}
