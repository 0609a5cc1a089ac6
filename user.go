package tipio

// User is an authenticated creator session.
type User struct {
	Profile *Profile `json:"profile"`
	Token   string   `json:"-"`
}
