// Package guard forces test mode for any test binary that imports it, so
// binaries under test return before dialing Postgres or Redis.
package guard

import (
	"os"
	"sync"

	"github.com/odyssey-erp/ledger/internal/app"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(app.TestModeEnv) == "" {
			_ = os.Setenv(app.TestModeEnv, "1")
		}
		app.RefreshTestMode()
	})
}
