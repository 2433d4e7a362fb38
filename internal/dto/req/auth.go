package req

type VerifyOTPReq struct {
	Phone string `json:"phone" binding:"required"`
	Code  string `json:"code" binding:"required"`
	Role  string `json:"role"`
}

type RefreshReq struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}
