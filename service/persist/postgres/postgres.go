package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/pgx/v4/stdlib"

	"github.com/mikeydub/comment-references/env"
	"github.com/mikeydub/comment-references/service/tracing"
	"github.com/mikeydub/comment-references/util/retry"
)

var DefaultConnectRetry = retry.Retry{Base: 2 * time.Second, Cap: 4 * time.Second, Tries: 3}

type ErrRoleDoesNotExist struct {
	role string
}

func (e ErrRoleDoesNotExist) Error() string {
	return fmt.Sprintf("role '%s' does not exist", e.role)
}

type connectionParams struct {
	user     string
	password string
	dbname   string
	host     string
	port     int
	appname  string
	maxConns int32
	retry    *retry.Retry
}

func (c *connectionParams) toConnectionString() string {
	port := c.port
	if port == 0 {
		port = 5432
	}

	connStr := fmt.Sprintf("user=%s dbname=%s host=%s port=%d", c.user, c.dbname, c.host, port)

	// Empty passwords should be omitted so they don't interfere with other parameters
	// (e.g. "password= dbname=something" causes Postgres to ignore the dbname)
	if c.password != "" {
		connStr += fmt.Sprintf(" password=%s", c.password)
	}

	return connStr
}

func newConnectionParamsFromEnv() connectionParams {
	return connectionParams{
		user:     env.GetString("POSTGRES_USER"),
		password: env.GetString("POSTGRES_PASSWORD"),
		dbname:   env.GetString("POSTGRES_DB"),
		host:     env.GetString("POSTGRES_HOST"),
		port:     env.GetInt("POSTGRES_PORT"),
		maxConns: 20,

		// Retry connections by default
		retry: &DefaultConnectRetry,
	}
}

type ConnectionOption func(params *connectionParams)

func WithAppName(appName string) ConnectionOption {
	return func(params *connectionParams) {
		params.appname = appName
	}
}

func WithMaxConns(n int32) ConnectionOption {
	return func(params *connectionParams) {
		params.maxConns = n
	}
}

func WithRetries(r retry.Retry) ConnectionOption {
	return func(params *connectionParams) {
		params.retry = &r
	}
}

// NewPgxClient creates a new Postgres client via pgx. By default, it will try to connect 3 times before returning an error.
func NewPgxClient(ctx context.Context, opts ...ConnectionOption) (*pgxpool.Pool, error) {
	params := newConnectionParamsFromEnv()
	for _, opt := range opts {
		opt(&params)
	}

	config, err := pgxpool.ParseConfig(params.toConnectionString())
	if err != nil {
		return nil, fmt.Errorf("could not parse pgx connection string: %w", err)
	}

	if params.appname != "" {
		config.ConnConfig.RuntimeParams["application_name"] = params.appname
	}

	config.ConnConfig.Logger = &pgxTracer{continueOnly: true}
	if params.maxConns > 0 {
		config.MaxConns = params.maxConns
	}

	var db *pgxpool.Pool

	connectF := func(ctx context.Context) error {
		var err error
		db, err = pgxpool.ConnectConfig(ctx, config)
		return err
	}

	if params.retry != nil {
		err = retry.RetryFunc(ctx, connectF, func(err error) bool { return true }, *params.retry)
	} else {
		err = connectF(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("could not open database connection: %w", err)
	}

	err = db.Ping(ctx)
	if err != nil && strings.Contains(err.Error(), fmt.Sprintf("role \"%s\" does not exist", params.user)) {
		db.Close()
		return nil, ErrRoleDoesNotExist{params.user}
	}
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// NewSQLClient opens a database/sql handle backed by pgx, for tools such as migrations that need one
func NewSQLClient(ctx context.Context, opts ...ConnectionOption) (*sql.DB, error) {
	params := newConnectionParamsFromEnv()
	for _, opt := range opts {
		opt(&params)
	}

	config, err := pgx.ParseConfig(params.toConnectionString())
	if err != nil {
		return nil, fmt.Errorf("could not parse pgx connection string: %w", err)
	}

	db := stdlib.OpenDB(*config)

	pingF := func(ctx context.Context) error { return db.PingContext(ctx) }
	if params.retry != nil {
		err = retry.RetryFunc(ctx, pingF, func(err error) bool { return true }, *params.retry)
	} else {
		err = pingF(ctx)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not open database connection: %w", err)
	}

	return db, nil
}

type pgxTracer struct {
	continueOnly bool
}

func (l *pgxTracer) Log(ctx context.Context, level pgx.LogLevel, msg string, data map[string]interface{}) {
	if data == nil {
		return
	}

	// Get the current time before we do anything else, since this is our best approximation
	// of when the operation "finished"
	endTime := time.Now()

	if l.continueOnly {
		transaction := sentry.TransactionFromContext(ctx)
		if transaction == nil {
			return
		}
	}

	// Only trace things that have a duration
	duration, ok := data["time"].(time.Duration)
	if !ok {
		return
	}

	operation := "other"
	if strings.EqualFold(msg, "query") {
		operation = "query"
	} else if strings.EqualFold(msg, "exec") {
		operation = "exec"
	}

	description := msg

	sqlStr, ok := data["sql"].(string)
	if ok {
		description = sqlStr

		// Queries in this package are prefixed with their name, which makes for a shorter description
		const namePrefix = "-- name: "
		if strings.HasPrefix(sqlStr, namePrefix) && len(sqlStr) > len(namePrefix) {
			withoutPrefix := sqlStr[len(namePrefix):]
			if end := strings.IndexAny(withoutPrefix, " \n"); end != -1 {
				description = withoutPrefix[:end]
			}
		}
	}

	span, _ := tracing.StartSpan(ctx, "db."+operation, description)
	defer tracing.FinishSpan(span)

	spanData := map[string]interface{}{
		"logMessage": msg,
	}

	if sqlStr != "" {
		spanData["sql"] = sqlStr
	}

	if rows, ok := data["rowCount"]; ok {
		spanData["rowCount"] = rows
	}

	tracing.AddEventDataToSpan(span, spanData)

	// pgx calls the logger AFTER the operation happens, but it tells us how long the operation took.
	// We can use that to update our span so it reflects the correct start time.
	span.EndTime = endTime
	span.StartTime = endTime.Add(-duration)
}

// Repositories is the set of all available persistence repositories
type Repositories struct {
	pool                      *pgxpool.Pool
	CommentRepository         *CommentRepository
	ResolutionCacheRepository *ResolutionCacheRepository
}

func NewRepositories(pool *pgxpool.Pool) *Repositories {
	return &Repositories{
		pool:                      pool,
		CommentRepository:         NewCommentRepository(pool),
		ResolutionCacheRepository: NewResolutionCacheRepository(pool),
	}
}

func (r *Repositories) Close() {
	r.pool.Close()
}
