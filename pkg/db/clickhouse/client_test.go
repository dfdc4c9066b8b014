package clickhouse

import (
	"testing"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/assert"
)

func TestExtractReplicas(t *testing.T) {
	tests := []struct {
		dsn  string
		want []string
	}{
		{"clickhouse://localhost:9000?sslmode=disable", []string{"localhost:9000"}},
		{"clickhouse://u:p@ch1:9000,ch2:9000/db", []string{"ch1:9000", "ch2:9000"}},
		{"tcp://ch:9440", []string{"ch:9440"}},
		{"clickhouse://u:p@/db", []string{"localhost:9000"}},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			assert.Equal(t, tt.want, extractReplicas(tt.dsn))
		})
	}
}

func TestExtractCredentials(t *testing.T) {
	u, p := extractCredentials("clickhouse://reader:s3cret@ch:9000")
	assert.Equal(t, "reader", u)
	assert.Equal(t, "s3cret", p)

	u, p = extractCredentials("clickhouse://reader@ch:9000")
	assert.Equal(t, "reader", u)
	assert.Empty(t, p)

	u, p = extractCredentials("clickhouse://ch:9000")
	assert.Equal(t, "default", u)
	assert.Empty(t, p)
}

func TestConnOpenStrategy(t *testing.T) {
	assert.Equal(t, clickhouse.ConnOpenRoundRobin, parseConnOpenStrategy(" Round_Robin "))
	assert.Equal(t, clickhouse.ConnOpenRandom, parseConnOpenStrategy("random"))
	assert.Equal(t, clickhouse.ConnOpenInOrder, parseConnOpenStrategy("bogus"))
	assert.Equal(t, "in_order", formatConnOpenStrategy(clickhouse.ConnOpenInOrder))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "cbbd_lake_v2", SanitizeName("CBBD-lake.v2"))
}
