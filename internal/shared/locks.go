package shared

import "fmt"

// LedgerLockKey builds redis keys for ledger-wide critical sections such as
// reconciliation.
func LedgerLockKey(section string) string {
	return fmt.Sprintf("reliefops:ledger:%s:lock", section)
}
