package ledger

// Activity type sign partitioning, per spec §4.1.
var (
	signPositive = map[int]bool{2: true, 4: true, 5: true, 6: true, 7: true, 10: true, 12: true, 18: true, 24: true}
	signNegative = map[int]bool{3: true, 8: true, 9: true, 11: true, 19: true, 22: true, 25: true, 26: true}
)

// Escrow detail activity partitioning, per spec §4.1 addEscrowDetail.
var escrowIncrease = map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true, 12: true, 24: true}

const (
	activityRefillCredit = 10
	activityEscrowDebit  = 9
	activityEscrowCredit = 10
	activitySettled      = 8
)

// signMatches reports whether delta's sign is consistent with
// activityType's partition. Bidirectional (unlisted) activity types allow
// either sign, per spec §4.1 "BIDIRECTIONAL (adjustment, rare)".
func signMatches(activityType int, delta float64) bool {
	switch {
	case signPositive[activityType]:
		return delta >= 0
	case signNegative[activityType]:
		return delta <= 0
	default:
		return true
	}
}

func isEscrowIncrease(activityType int) bool {
	return escrowIncrease[activityType]
}
