// Package txn implements the Transaction Coordinator (spec §4.8): a fixed
// Fact-before-Entity lock ordering for cross-store writes, plus the
// system status state machine and consistency checks, grounded in the
// teacher's storage.Storage.RunInTransaction contract (BEGIN IMMEDIATE,
// single shared connection, commit-on-nil/rollback-on-error) and its
// checkDaemonHealth PRAGMA-based health checks.
package txn

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memogarden/memogarden/internal/core"
	"github.com/memogarden/memogarden/internal/soil"
	"github.com/memogarden/memogarden/internal/sqliteutil"
	"github.com/memogarden/memogarden/internal/verrs"
)

// SystemStatus is the closed set of system health states (spec §4.8).
type SystemStatus string

const (
	StatusNormal       SystemStatus = "normal"
	StatusInconsistent SystemStatus = "inconsistent"
	StatusReadOnly     SystemStatus = "read_only"
	StatusSafeMode     SystemStatus = "safe_mode"
)

// Scope bundles the Fact Store and Entity Store handles a transaction body
// operates through; both are bound to the same *sql.Conn/transaction.
type Scope struct {
	Facts    *soil.Store
	Entities *core.Store
}

// Coordinator owns the shared *sql.DB. RunInTransaction binds a Scope's
// Fact Store and Entity Store to one connection inside one BEGIN IMMEDIATE
// transaction, so a transaction body holds a single write lock for both.
// The verb handlers do not go through the Coordinator: they use the
// daemon's own store instances, outside any Coordinator transaction.
type Coordinator struct {
	db                   *sql.DB
	allowedFactTypes     []string
	allowedRelationKinds []string
	clock                func() time.Time
	log                  *zap.Logger

	mu     sync.RWMutex
	status SystemStatus
}

func New(db *sql.DB, allowedFactTypes, allowedRelationKinds []string, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		db: db, allowedFactTypes: allowedFactTypes, allowedRelationKinds: allowedRelationKinds,
		clock: func() time.Time { return time.Now().UTC() }, log: log, status: StatusNormal,
	}
}

// Status returns the current system status.
func (c *Coordinator) Status() SystemStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Coordinator) setStatus(s SystemStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != s {
		c.log.Info("system status transition", zap.String("from", string(c.status)), zap.String("to", string(s)))
	}
	c.status = s
}

// InitSystem marks the system ready. Schema application already happened
// in sqliteutil.Open; this just resets status to normal at startup.
func (c *Coordinator) InitSystem(ctx context.Context) error {
	c.setStatus(StatusNormal)
	return nil
}

// RunInTransaction acquires a single connection, issues BEGIN IMMEDIATE to
// take the write lock up front (matching the teacher's documented SQLite
// transaction semantics), constructs a Scope bound to that connection, and
// commits or rolls back based on fn's return value. Writes are rejected
// while the system is read_only or safe_mode.
func (c *Coordinator) RunInTransaction(ctx context.Context, fn func(scope Scope) error) error {
	switch c.Status() {
	case StatusReadOnly, StatusSafeMode:
		return verrs.New(verrs.PermissionDenied, fmt.Sprintf("system is %s; writes are rejected", c.Status()), nil)
	}

	return sqliteutil.WithConn(ctx, c.db, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
			return verrs.Wrap(verrs.InternalError, "beginning transaction", err)
		}

		facts := soil.New(conn, c.allowedFactTypes, c.log)
		entities := core.New(conn, c.allowedRelationKinds, c.log, core.WithClock(c.clock))

		if err := fn(Scope{Facts: facts, Entities: entities}); err != nil {
			if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
				c.log.Error("rollback failed", zap.Error(rbErr))
			}
			return err
		}
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			return verrs.Wrap(verrs.InternalError, "committing transaction", err)
		}
		return nil
	})
}

// CheckResult is one named consistency probe's outcome.
type CheckResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// ConsistencyReport is the result of CheckConsistency. The status endpoint
// reports only its Status, not the individual Checks.
type ConsistencyReport struct {
	Status SystemStatus  `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// CheckConsistency runs the system's health probes and updates Status
// accordingly: any failing check moves the system to inconsistent (or
// safe_mode if the database itself is unreachable).
func (c *Coordinator) CheckConsistency(ctx context.Context) ConsistencyReport {
	var checks []CheckResult

	if err := c.db.PingContext(ctx); err != nil {
		checks = append(checks, CheckResult{Name: "database_reachable", OK: false, Detail: err.Error()})
		c.setStatus(StatusSafeMode)
		return ConsistencyReport{Status: c.Status(), Checks: checks}
	}
	checks = append(checks, CheckResult{Name: "database_reachable", OK: true})

	var quick string
	if err := c.db.QueryRowContext(ctx, "PRAGMA quick_check(1)").Scan(&quick); err != nil {
		checks = append(checks, CheckResult{Name: "integrity_check", OK: false, Detail: err.Error()})
	} else if quick != "ok" {
		checks = append(checks, CheckResult{Name: "integrity_check", OK: false, Detail: quick})
	} else {
		checks = append(checks, CheckResult{Name: "integrity_check", OK: true})
	}

	danglingResultOf, err := c.countDanglingResultOf(ctx)
	if err != nil {
		checks = append(checks, CheckResult{Name: "result_of_links", OK: false, Detail: err.Error()})
	} else if danglingResultOf > 0 {
		checks = append(checks, CheckResult{Name: "result_of_links", OK: false, Detail: fmt.Sprintf("%d dangling result_of relations", danglingResultOf)})
	} else {
		checks = append(checks, CheckResult{Name: "result_of_links", OK: true})
	}

	orphanSupersessions, err := c.countOrphanSupersessions(ctx)
	if err != nil {
		checks = append(checks, CheckResult{Name: "supersession_targets", OK: false, Detail: err.Error()})
	} else if orphanSupersessions > 0 {
		checks = append(checks, CheckResult{Name: "supersession_targets", OK: false, Detail: fmt.Sprintf("%d entities superseded by a missing row", orphanSupersessions)})
	} else {
		checks = append(checks, CheckResult{Name: "supersession_targets", OK: true})
	}

	allOK := true
	for _, chk := range checks {
		if !chk.OK {
			allOK = false
			break
		}
	}
	if allOK {
		c.setStatus(StatusNormal)
	} else {
		c.setStatus(StatusInconsistent)
	}
	return ConsistencyReport{Status: c.Status(), Checks: checks}
}

func (c *Coordinator) countDanglingResultOf(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM system_relation sr
		WHERE sr.kind = 'result_of' AND NOT EXISTS (SELECT 1 FROM item i WHERE i.uuid = sr.target)
	`).Scan(&n)
	return n, err
}

func (c *Coordinator) countOrphanSupersessions(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entity e
		WHERE e.superseded_by IS NOT NULL AND NOT EXISTS (SELECT 1 FROM entity e2 WHERE e2.uuid = e.superseded_by)
	`).Scan(&n)
	return n, err
}
