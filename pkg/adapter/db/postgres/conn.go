package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/momeni/role-bridge/pkg/core/repo"
	"gorm.io/gorm"
)

type Conn struct {
	*gorm.DB
}

type TxHandler = repo.TxHandler

func (c *Conn) Tx(ctx context.Context, f TxHandler) (err error) {
	tx := c.DB.WithContext(ctx).Begin()
	if err = tx.Error; err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = tx.Rollback().Error
			if err == nil {
				err = fmt.Errorf("panicked: %v", r)
				return
			}
			err = fmt.Errorf("panicked: %v, rollback: %w", r, err)
			return
		}
		if err != nil {
			if err2 := tx.Rollback().Error; err2 != nil {
				err = fmt.Errorf("handler: %w, rollback: %w", err, err2)
				return
			}
			err = fmt.Errorf("handler: %w", err)
			return
		}
		err = tx.Commit().Error
		if err != nil {
			err = fmt.Errorf("commit: %w", err)
		}
	}()
	tt := &Tx{DB: tx}
	return f(ctx, tt)
}

func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tt := c.DB.WithContext(ctx).Exec(sql, args...)
	if err := tt.Error; err != nil {
		return 0, err
	}
	return tt.RowsAffected, nil
}

func (c *Conn) Query(ctx context.Context, sql string, args ...any) (repo.Rows, error) {
	rows, err := c.DB.WithContext(ctx).Raw(sql, args...).Rows()
	return rowsAdapter{rows}, err
}

func (c *Conn) IsConn() {
}

func (c *Conn) GORM(ctx context.Context) *gorm.DB {
	return c.DB.WithContext(ctx)
}

// SwitchRole causes subsequent statements on this connection to run
// with the privileges of the `role` role. The role name cannot be sent
// as a query parameter, hence, it is quoted and embedded in the SET
// ROLE statement itself. A failed switch keeps the previous privilege
// state, reporting *cerr.UnknownRole for absent roles and
// *cerr.PrivilegeDenied when the session identity lacks the membership
// in the target role.
func (c *Conn) SwitchRole(ctx context.Context, role repo.Role) error {
	_, err := c.Exec(ctx, "SET ROLE "+QuoteIdentifier(string(role)))
	if err != nil {
		return WrapRoleError(err, string(role))
	}
	return nil
}

// ResetRole restores the privileges of the session's original
// identity, dropping any active SET ROLE state.
func (c *Conn) ResetRole(ctx context.Context) error {
	if _, err := c.Exec(ctx, "RESET ROLE"); err != nil {
		return fmt.Errorf("resetting role: %w", err)
	}
	return nil
}

// CurrentRole reports the role whose privileges are in effect on this
// connection, returning repo.DefaultRole when no switch is active,
// that is, when current_user still equals session_user.
func (c *Conn) CurrentRole(ctx context.Context) (repo.Role, error) {
	rows, err := c.Query(ctx, "SELECT current_user, session_user")
	if err != nil {
		return repo.DefaultRole, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return repo.DefaultRole, fmt.Errorf("no rows: %w", rows.Err())
	}
	vals, err := rows.Values()
	if err != nil {
		return repo.DefaultRole, fmt.Errorf("scanning: %w", err)
	}
	cur := fmt.Sprintf("%s", vals[0])
	sess := fmt.Sprintf("%s", vals[1])
	if cur == sess {
		return repo.DefaultRole, nil
	}
	return repo.Role(cur), nil
}

// Discard marks the underlying driver connection as bad, so the
// database/sql pool closes it instead of returning it for reuse.
// It must be called when the session privilege state cannot be
// restored reliably, because a pooled connection with a lingering
// SET ROLE state would leak elevated privileges to its next user.
func (c *Conn) Discard() error {
	sc, ok := c.DB.Statement.ConnPool.(*sql.Conn)
	if !ok {
		return fmt.Errorf(
			"connection pool is %T, not a dedicated *sql.Conn",
			c.DB.Statement.ConnPool,
		)
	}
	err := sc.Raw(func(any) error {
		return driver.ErrBadConn
	})
	if err != nil && !errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("marking connection as bad: %w", err)
	}
	return nil
}
