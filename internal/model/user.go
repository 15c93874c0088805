package model

// UserRole 由认证服务签发在令牌中，本服务只做读取
type UserRole string

const (
	Candidate UserRole = "candidate"
	Admin     UserRole = "admin"
)
