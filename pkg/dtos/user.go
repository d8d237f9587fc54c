package dtos

// DTO for user registration
type DTOForUserCreate struct {
	Email    string `json:"email" binding:"required,isemail"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required"`
	Surname  string `json:"surname" binding:"required"`
	Phone    string `json:"phone" binding:"required,isphone"`
}

// DTO for user login
type DTOForUserLogin struct {
	Email    string `json:"email" binding:"required,isemail"`
	Password string `json:"password" binding:"required"`
}

type ForgotPasswordDTO struct {
	Email string `json:"email" binding:"required,isemail"`
}

type ResetPasswordDTO struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
}
