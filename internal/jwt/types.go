package jwt

type Role int

type Staff struct {
	Id    string `json:"id"`
	Email string `json:"email"`
}
