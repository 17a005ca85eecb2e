//go:build !cgo

package sqlstore

import (
	"context"
	"errors"
	"fmt"
)

var errNoCGO = errors.New("dolt: this binary was built without CGO support; rebuild with CGO_ENABLED=1")

// openDolt returns an error in non-CGO builds. A dolt sql-server can still
// be used through the mysql driver.
func openDolt(_ context.Context, _ Options) (*Store, error) {
	return nil, fmt.Errorf("embedded dolt requires CGO: %w (use --db-driver mysql against a dolt sql-server instead)", errNoCGO)
}
