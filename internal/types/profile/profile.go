package profile

// Profile is the display subset of a user record. User identity lives in
// Clerk; this service only ever reads profiles to decorate duel results.
type Profile struct {
	ID        string  `json:"id" db:"clerk_id"`
	FullName  string  `json:"full_name" db:"full_name"`
	Username  string  `json:"username" db:"username"`
	AvatarURL *string `json:"avatar_url" db:"avatar_url"`
}

// DisplayName prefers the full name, falls back to username, then "Unknown".
func (p *Profile) DisplayName() string {
	if p == nil {
		return "Unknown"
	}
	if p.FullName != "" {
		return p.FullName
	}
	if p.Username != "" {
		return p.Username
	}
	return "Unknown"
}
