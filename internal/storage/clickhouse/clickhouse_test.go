package clickhouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseFromDSN(t *testing.T) {
	db, err := DatabaseFromDSN("clickhouse://u:p@localhost:9000/ledger")
	require.NoError(t, err)
	assert.Equal(t, "ledger", db)

	_, err = DatabaseFromDSN("clickhouse://localhost:9000")
	assert.Error(t, err)
}
