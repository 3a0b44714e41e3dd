// Package testdb provides utilities for database integration tests.
//
// Tests skip unless DATABASE_URL (or COURSEGEN_TEST_DB_URL) names a
// PostgreSQL database. The embedded schema migrations are applied once per
// process. Tests that do not need concurrent connections run inside a
// transaction that is rolled back when they finish:
//
//	func TestSomething(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        jobs := postgres.NewPostgresJobStore(tx, nil)
//	        ...
//	    })
//	}
//
// Tests that exercise claims from several connections use the *sql.DB
// directly and call ResetTables first.
package testdb
