package source

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/dgnsrekt/feedrelay/internal/relay"
)

// DefaultQuery subscribes to the live P&L view with an initial snapshot.
const DefaultQuery = "COPY (SUBSCRIBE TO live_pnl WITH (SNAPSHOT)) TO STDOUT"

// PostgresConfig locates the Postgres-wire server.
type PostgresConfig struct {
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	SSLMode        string
	ConnectTimeout time.Duration
	Query          string
}

// ConnString renders the config as a postgres:// URL.
func (c PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// PostgresSource runs a COPY ... TO STDOUT query and forwards the raw output.
type PostgresSource struct {
	cfg    PostgresConfig
	logger *zap.Logger
}

// Compile-time interface verification
var _ relay.Source = (*PostgresSource)(nil)

// NewPostgresSource creates a PostgresSource. An empty query means DefaultQuery.
func NewPostgresSource(cfg PostgresConfig, logger *zap.Logger) *PostgresSource {
	if cfg.Query == "" {
		cfg.Query = DefaultQuery
	}
	return &PostgresSource{cfg: cfg, logger: logger}
}

// Stream implements relay.Source.
func (s *PostgresSource) Stream(ctx context.Context, emit func(chunk []byte) error) error {
	conn, err := pgconn.Connect(ctx, s.cfg.ConnString())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s:%d: %w", relay.ErrSourceConnection, s.cfg.Host, s.cfg.Port, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	s.logger.Info("connected to change source",
		zap.String("host", s.cfg.Host),
		zap.Int("port", s.cfg.Port),
		zap.String("database", s.cfg.Database),
	)

	tag, err := conn.CopyTo(ctx, emitWriter(emit), s.cfg.Query)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w", relay.ErrSourceStream, err)
	}

	s.logger.Info("change source finished", zap.String("tag", tag.String()))
	return nil
}

// emitWriter turns an emit callback into the io.Writer CopyTo writes into.
type emitWriter func(chunk []byte) error

func (f emitWriter) Write(p []byte) (int, error) {
	// CopyTo reuses its buffer; relay consumers copy what they keep.
	if err := f(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
