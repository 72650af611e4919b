package domain

type User struct {
	ID    string `db:"id"`
	Email string `db:"email"`
	Name  string `db:"name"`
	Hash  string `db:"password_hash"`
	Role  string `db:"role"`
}

func (u *User) IsAdmin() bool { return u != nil && u.Role == "ADMIN" }

// Identity is what the authentication observer reports to the cart.
type Identity struct {
	UserID    string
	Resolving bool
}

func (i Identity) Authenticated() bool { return !i.Resolving && i.UserID != "" }

func Guest() Identity { return Identity{} }

func Resolving() Identity { return Identity{Resolving: true} }

func Signed(userID string) Identity { return Identity{UserID: userID} }
