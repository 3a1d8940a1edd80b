//go:build sqlite_vec && cgo

package research

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver.
	// vec.Auto() registers it as an auto-loadable extension, which makes
	// vec_version() and the vec0 virtual table available to every connection.
	vec.Auto()
}
