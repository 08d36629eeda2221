package models

// User owns accounts. GoogleServiceAccountFile optionally overrides the global
// service-account credentials for this user's jobs.
type User struct {
	ID                       string `json:"id"`
	Email                    string `json:"email"`
	FullName                 string `json:"full_name"`
	GoogleServiceAccountFile string `json:"google_service_account_file,omitempty"`
}

// DisplayName falls back to the email when no full name is recorded.
func (u *User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Email
}
