package model

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleStaff Role = "STAFF"
)

// 認証済みの操作主体。検証はこのサービスの外で済んでいる前提。
type Principal struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// SystemPrincipal is used for transitions driven by collaborators rather than people.
func SystemPrincipal(id string) Principal {
	return Principal{ID: id, Name: id, Role: ""}
}
