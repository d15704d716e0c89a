package domain

// UserStatus is the global battle-membership lock. A user may only be
// IN_BATTLE for one battle at a time; the flag is mutated only by the
// lifecycle's lock/unlock step inside its transactions.
type UserStatus string

const (
	UserActive   UserStatus = "ACTIVE"
	UserInBattle UserStatus = "IN_BATTLE"
)

// User is the platform account as the battle core sees it. RankPoints is
// deliberately updated in lockstep with Elo pending a future separation;
// downstream consumers rely on both being equal today.
type User struct {
	ID         string
	Elo        int
	RankPoints int
	Status     UserStatus
}
