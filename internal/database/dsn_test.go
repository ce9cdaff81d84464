package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		expected []string
	}{
		{
			name:     "defaults",
			cfg:      Config{User: "hearth", Name: "hearth"},
			expected: []string{"host=localhost port=5432 user=hearth dbname=hearth sslmode=disable"},
		},
		{
			name: "options override sslmode",
			cfg: Config{
				User: "hearth", Name: "credentials", Host: "db.internal", Port: 6543, Password: "pw",
				Options: map[string]string{"sslmode": "verify-full", "search_path": "auth"},
			},
			expected: []string{"host=db.internal", "port=6543", "dbname=credentials", "password=pw", "sslmode=verify-full", "search_path=auth"},
		},
		{
			name:     "explicit dsn wins",
			cfg:      Config{DSN: "postgres://hearth@db/hearth"},
			expected: []string{"postgres://hearth@db/hearth"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := buildPostgresDSN(tt.cfg)
			require.NoError(t, err)
			for _, part := range tt.expected {
				require.Contains(t, dsn, part)
			}
		})
	}

	_, err := buildPostgresDSN(Config{Host: "db.internal"})
	require.ErrorContains(t, err, "requires user and database name")
}

func TestBuildMySQLDSNDefaults(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{User: "hearth", Name: "hearth"})
	require.NoError(t, err)
	require.Equal(t, "hearth@tcp(127.0.0.1:3306)/hearth?charset=utf8mb4&clientFoundRows=true&loc=UTC&parseTime=True", dsn)
}

func TestBuildMySQLDSNKeepsPinnedOptions(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User: "hearth", Password: "pw", Name: "hearth", Host: "mysql.internal", Port: 3307,
		Options: map[string]string{
			"tls":             "skip-verify",
			"clientFoundRows": "false",
			"loc":             "Local",
		},
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "hearth:pw@tcp(mysql.internal:3307)/hearth?")
	require.Contains(t, dsn, "tls=skip-verify")
	require.Contains(t, dsn, "clientFoundRows=true")
	require.Contains(t, dsn, "loc=UTC")
	require.NotContains(t, dsn, "loc=Local")
}

func TestBuildMySQLDSNRequiresUserAndName(t *testing.T) {
	_, err := buildMySQLDSN(Config{Host: "localhost"})
	require.Error(t, err)
}
