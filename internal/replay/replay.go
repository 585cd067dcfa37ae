// Package replay wraps a live MySQL connection behind the narrow interface
// the core's replay worker consumes, matching spec.md §1's framing of "the
// thin wrapper around a native MySQL client library" as an external
// collaborator described only through the interface it satisfies. Grounded
// in library choice on kasuganosora-sqlexec/go.mod's use of
// github.com/go-sql-driver/mysql; the interface-behind-a-narrow-seam
// pattern itself mirrors middle/types/types.go's ProtocolParser/Monitor
// interfaces in the teacher repository.
package replay

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Endpoint describes a live MySQL server to connect to for replay or for
// EXPLAIN/ANALYZE probing.
type Endpoint struct {
	Host     string
	Port     int
	User     string
	Password string
	DB       string

	SSLCA   string
	SSLCert string
	SSLKey  string
}

// tlsConfigName is derived per-endpoint so multiple Endpoints in the same
// process (replay vs. explain) don't collide in the driver's global TLS
// config registry.
func (e Endpoint) tlsConfigName() string {
	return fmt.Sprintf("mysqlpcap-%s-%d", e.Host, e.Port)
}

func (e Endpoint) usesTLS() bool {
	return e.SSLCA != "" || e.SSLCert != "" || e.SSLKey != ""
}

func (e Endpoint) registerTLS() (string, error) {
	if !e.usesTLS() {
		return "", nil
	}

	cfg := &tls.Config{}

	if e.SSLCA != "" {
		pem, err := os.ReadFile(e.SSLCA)
		if err != nil {
			return "", fmt.Errorf("replay: reading CA %s: %w", e.SSLCA, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return "", fmt.Errorf("replay: no certificates found in CA file %s", e.SSLCA)
		}
		cfg.RootCAs = pool
	}

	if e.SSLCert != "" && e.SSLKey != "" {
		cert, err := tls.LoadX509KeyPair(e.SSLCert, e.SSLKey)
		if err != nil {
			return "", fmt.Errorf("replay: loading client cert/key: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	name := e.tlsConfigName()
	if err := mysql.RegisterTLSConfig(name, cfg); err != nil {
		return "", fmt.Errorf("replay: registering TLS config: %w", err)
	}
	return name, nil
}

func (e Endpoint) dsn() (string, error) {
	cfg := mysql.NewConfig()
	cfg.User = e.User
	cfg.Passwd = e.Password
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%d", e.Host, e.Port)
	cfg.DBName = e.DB
	cfg.Timeout = 30 * time.Second
	cfg.ReadTimeout = 30 * time.Second

	if e.usesTLS() {
		tlsName, err := e.registerTLS()
		if err != nil {
			return "", err
		}
		cfg.TLSConfig = tlsName
	}

	return cfg.FormatDSN(), nil
}

// DSN returns the go-sql-driver/mysql data-source-name string for e,
// registering TLS material first if configured. Exported so collaborators
// that open their own *sql.DB against the same endpoint (the EXPLAIN/ANALYZE
// pretty-printer's dedicated connection, mirroring the original's separate
// explain_con) don't have to duplicate endpoint-to-DSN translation.
func (e Endpoint) DSN() (string, error) {
	return e.dsn()
}

// Client is the narrow seam the replay worker consumes: connect lazily,
// execute a statement (discarding any result set), close.
type Client interface {
	Connect(ctx context.Context) error
	ExecQuery(ctx context.Context, query string) error
	Close() error
}

// mysqlClient is the database/sql + go-sql-driver/mysql backed
// implementation of Client.
type mysqlClient struct {
	endpoint Endpoint
	db       *sql.DB
}

// NewClient returns a Client for endpoint. The connection itself is opened
// lazily on the first Connect call, matching §4.3's "lazy connect"
// requirement for the replay worker.
func NewClient(endpoint Endpoint) Client {
	return &mysqlClient{endpoint: endpoint}
}

func (c *mysqlClient) Connect(ctx context.Context) error {
	if c.db != nil {
		return nil
	}

	dsn, err := c.endpoint.dsn()
	if err != nil {
		return err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("replay: opening connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("replay: connecting to %s:%d: %w", c.endpoint.Host, c.endpoint.Port, err)
	}

	c.db = db
	return nil
}

// ExecQuery executes query and, if it produced a result set, drains every
// row to completion without inspecting the contents, per §4.3 ("if the
// statement has a result set, consume rows to completion (discarding
// content)") and §1's non-goal of validating result-set payloads.
func (c *mysqlClient) ExecQuery(ctx context.Context, query string) error {
	if c.db == nil {
		return fmt.Errorf("replay: ExecQuery called before Connect")
	}

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		// Row contents are never inspected; only draining to completion
		// matters for correct protocol accounting on the wire.
	}
	return rows.Err()
}

func (c *mysqlClient) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// IsDuplicateKeyError reports whether err is a MySQL duplicate-key error
// (error code 1062), used by the replay worker's --ignore-dup-key-errors
// policy.
func IsDuplicateKeyError(err error) bool {
	mysqlErr, ok := err.(*mysql.MySQLError)
	return ok && mysqlErr.Number == 1062
}
