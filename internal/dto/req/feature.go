package req

type UpdateRemoteFlagsRequest struct {
	Flags map[string]bool `json:"flags" binding:"required"`
}

type ListAuditsRequest struct {
	Key    string `form:"key"`
	Offset int    `form:"offset" binding:"min=0"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=200"`
}
