package shared

import "fmt"

// DocumentLockKey builds redis keys guarding posting of one sub-ledger document.
func DocumentLockKey(kind string, id int64) string {
	return fmt.Sprintf("ledger:post:%s:%d:lock", kind, id)
}

// DepreciationLockKey guards a monthly depreciation batch.
func DepreciationLockKey(period string) string {
	return fmt.Sprintf("ledger:depreciation:%s:lock", period)
}
