package parcel

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// UnitOfWork binds a single transaction together with the repositories
// that operate inside it. It is single-use: Commit or Rollback ends
// its lifetime. A call site that has no use for one of the three
// repositories (the calculation worker never touches companies, for
// instance) passes nil for it and never calls its accessor.
type UnitOfWork struct {
	tx        pgx.Tx
	parcels   ParcelRepository
	outbox    OutboxRepository
	companies CompanyRepository
	done      bool
}

// NewUnitOfWork memoizes the given repository instances against one
// transaction. Repositories are constructed once by the caller and
// handed in here rather than looked up from a type registry — Go's
// interfaces make a reflect-keyed cache unnecessary ceremony for three
// fixed repositories.
func NewUnitOfWork(tx pgx.Tx, parcels ParcelRepository, outbox OutboxRepository, companies CompanyRepository) *UnitOfWork {
	return &UnitOfWork{tx: tx, parcels: parcels, outbox: outbox, companies: companies}
}

func (u *UnitOfWork) Tx() pgx.Tx { return u.tx }

func (u *UnitOfWork) Parcels() ParcelRepository { return u.parcels }

func (u *UnitOfWork) Outbox() OutboxRepository { return u.outbox }

func (u *UnitOfWork) Companies() CompanyRepository { return u.companies }

// Commit commits the underlying transaction. Calling it twice, or
// after Rollback, is a programmer error the caller must not make —
// the UoW is single-use by contract.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	return u.tx.Commit(ctx)
}

// Rollback rolls back the underlying transaction. Safe to call after
// Commit (or a second time): the UoW is already done, so it returns nil
// without touching the transaction, which suits defer Rollback().
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if u.done {
		return nil
	}
	u.done = true
	return u.tx.Rollback(ctx)
}
