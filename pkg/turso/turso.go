package turso

import (
	"net/url"

	"github.com/jmoiron/sqlx"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

type Turso struct {
	Database *sqlx.DB
}

// New opens a libsql database. A non-empty authToken is appended to the URL.
func New(dsn, authToken string) (*Turso, error) {
	if authToken != "" {
		u, err := url.Parse(dsn)
		if err != nil {
			return nil, err
		}
		query := u.Query()
		query.Set("authToken", authToken)
		u.RawQuery = query.Encode()
		dsn = u.String()
	}

	db, err := sqlx.Open("libsql", dsn)
	if err != nil {
		return nil, err
	}

	return &Turso{
		Database: db,
	}, nil
}

func (t *Turso) Conn() *sqlx.DB {
	return t.Database
}

func (t *Turso) Close() error {
	return t.Database.Close()
}
