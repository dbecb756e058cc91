package registry

// Author is a registered user. Passwd is the server-side digest,
// absent when the account was created purely via external identity.
type Author struct {
	ID       int64   `json:"id" db:"id"`
	Email    string  `json:"email" db:"email"`
	Name     string  `json:"name" db:"name"`
	Passwd   []byte  `json:"-" db:"passwd"`
	GithubID *int64  `json:"-" db:"github_id"`
	GitlabID *int64  `json:"-" db:"gitlab_id"`
}

// Salt is the one-to-one per-author random value mixed into the
// server-side password KDF. Never serialized.
type Salt struct {
	AuthorID int64  `db:"author_id"`
	Salt     []byte `db:"salt"`
}

// AuthorToken is an opaque bearer credential an author can present in
// the Authorization header of a mutating request.
type AuthorToken struct {
	ID       int64  `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Token    string `json:"token,omitempty" db:"token"`
	AuthorID int64  `json:"-" db:"author_id"`
}
