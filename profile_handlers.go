package main

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mentormodule/models"
	"mentormodule/pkg/apierror"
	"mentormodule/pkg/avatar"
)

// uploadAvatarHandler stores the caller's profile picture as a 256x256 PNG under
// <upload base>/avatars and points the user's avatar_url at it.
func (a *app) uploadAvatarHandler(c *gin.Context) {
	user := currentUser(c)
	file, err := c.FormFile("file")
	if err != nil {
		respondError(c, apierror.NewValidationError("file", "file missing"))
		return
	}
	if file.Size > avatar.MaxBytes {
		respondError(c, apierror.NewValidationError("file", "file too large (max 5MB)"))
		return
	}
	f, err := file.Open()
	if err != nil {
		respondError(c, err)
		return
	}
	defer f.Close()

	res, err := avatar.Normalize(f)
	switch {
	case errors.Is(err, avatar.ErrNotAnImage), errors.Is(err, avatar.ErrTooLarge), errors.Is(err, avatar.ErrEmptyUpload):
		respondError(c, apierror.NewValidationError("file", err.Error()))
		return
	case err != nil:
		respondError(c, err)
		return
	}
	rel, err := avatar.Save(a.cfg.Upload.BaseDir, user.ID.String(), res)
	if err != nil {
		respondError(c, err)
		return
	}

	// files are served under /public
	storePath := "public/" + rel
	up := models.AvatarUpload{
		UserID:      user.ID,
		FileName:    file.Filename,
		StorePath:   storePath,
		ContentType: "image/png",
		Width:       res.Width,
		Height:      res.Height,
	}
	ctx := c.Request.Context()
	if err := a.db.WithContext(ctx).Create(&up).Error; err != nil {
		respondError(c, err)
		return
	}
	url := "/" + storePath
	if err := a.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", user.ID).Update("avatar_url", url).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": up.ID, "store_path": storePath, "avatar_url": url, "width": up.Width, "height": up.Height})
}
