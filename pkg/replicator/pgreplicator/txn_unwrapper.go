package pgreplicator

import (
	"github.com/bronzelake/pgcap/pkg/changeset"
)

// txnUnwrapper buffers transaction markers so that single-statement
// transactions are emitted as a lone DML changeset, without the surrounding
// begin and commit.  Multi-statement transactions are passed through intact.
//
// Postgres wraps every autocommitted write in its own transaction, so without
// unwrapping every single-row change costs three events downstream.
type txnUnwrapper struct {
	cc chan *changeset.Changeset

	begin    *changeset.Changeset
	dml      *changeset.Changeset
	sequence int
}

func (u *txnUnwrapper) Process(cs *changeset.Changeset) {
	switch cs.Operation {
	case changeset.OperationBegin:
		u.begin = cs
	case changeset.OperationCommit:
		u.commit(cs)
	default:
		u.dmlMessage(cs)
	}
}

func (u *txnUnwrapper) dmlMessage(cs *changeset.Changeset) {
	if u.begin == nil {
		// Not inside a tracked transaction;  pass through.
		u.cc <- cs
		return
	}

	u.sequence++
	switch u.sequence {
	case 1:
		// Hold the first DML until we know whether the txn contains more.
		u.dml = cs
	case 2:
		// A second statement means the txn cannot be unwrapped.  Flush the
		// buffered begin and first DML, then this one.
		u.cc <- u.begin
		u.cc <- u.dml
		u.cc <- cs
	default:
		u.cc <- cs
	}
}

func (u *txnUnwrapper) commit(cs *changeset.Changeset) {
	switch {
	case u.sequence == 1:
		// Single-statement txn:  emit just the DML.
		u.cc <- u.dml
	case u.sequence > 1:
		u.cc <- cs
	}
	// An empty txn (begin immediately followed by commit) emits nothing.

	u.begin = nil
	u.dml = nil
	u.sequence = 0
}
