package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	dbconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/database/config"
)

func TestConnectionString(t *testing.T) {
	dsn := ConnectionString(dbconfig.DatabaseConfig{
		User: "batch", Password: "pw", Host: "db", Port: 5432, Database: "products", Schema: "etl",
	})
	assert.Equal(t, "host=db port=5432 user=batch password=pw dbname=products sslmode=disable search_path=etl", dsn)
}
