// Package health provides readiness checks for the feed's backing services.
package health

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checker reports whether a dependency is usable.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// HealthCheck implements Checker.
func (f CheckerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// DBChecker pings a SQL database.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker creates a new database health checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck implements Checker.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// RedisChecker sends PING to Redis.
type RedisChecker struct {
	client *redis.Client
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client *redis.Client) *RedisChecker {
	return &RedisChecker{client: client}
}

// HealthCheck implements Checker.
func (r *RedisChecker) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Failure is one failed check.
type Failure struct {
	Name string
	Err  error
}

// Report is the outcome of running a set of checks.
type Report struct {
	// Checks maps each check name to "ok" or "error".
	Checks   map[string]string
	Failures []Failure
}

// Healthy reports whether every check passed.
func (r Report) Healthy() bool {
	return len(r.Failures) == 0
}

// Run executes all checkers concurrently, each bounded by timeout.
// Nil checkers are skipped.
func Run(ctx context.Context, checkers map[string]Checker, timeout time.Duration) Report {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report = Report{Checks: make(map[string]string, len(checkers))}
	)
	for name, c := range checkers {
		if c == nil {
			continue
		}
		wg.Add(1)
		go func(name string, c Checker) {
			defer wg.Done()
			err := c.HealthCheck(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Checks[name] = "error"
				report.Failures = append(report.Failures, Failure{Name: name, Err: err})
				return
			}
			report.Checks[name] = "ok"
		}(name, c)
	}
	wg.Wait()

	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].Name < report.Failures[j].Name
	})
	return report
}
