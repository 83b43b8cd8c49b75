package postgresql

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		want    string
		wantErr bool
	}{
		{
			name:   "url wins",
			config: Config{URL: "postgres://u:p@db:5432/media", Host: "ignored"},
			want:   "postgres://u:p@db:5432/media",
		},
		{
			name:   "discrete fields with defaults",
			config: Config{Host: "db", User: "media", Password: "secret", Database: "media"},
			want:   "host=db port=5432 user=media password=secret dbname=media sslmode=disable",
		},
		{
			name:   "explicit port and sslmode",
			config: Config{Host: "db", Port: 6432, User: "u", Database: "d", SSLMode: "require"},
			want:   "host=db port=6432 user=u password= dbname=d sslmode=require",
		},
		{
			name:    "nothing set",
			config:  Config{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.config.DSN()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClient_HealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	client := Wrap(sqlx.NewDb(db, "postgres"), slog.New(slog.NewTextHandler(io.Discard, nil)))

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	assert.NoError(t, client.HealthCheck(context.Background()))

	mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection reset"))
	err = client.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database health check failed")

	mock.ExpectClose()
	require.NoError(t, client.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
