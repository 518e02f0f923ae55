package handler

type UploadPhotoParams struct {
	LodgingID string `validate:"required,uuid"`    // photos.lodging_id (NOT NULL)
	Caption   string `validate:"omitempty,max=255"` // photos.caption

	// Auth
	UserID string `validate:"required,uuid"`
}

type UpdatePhotoRequest struct {
	Caption *string `json:"caption" validate:"omitempty,max=255"`
}
