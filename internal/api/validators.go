package api

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/luckyjinx/matching-service/internal/models"
)

var registerOnce sync.Once

// registerValidators gin 바인딩 검증기에 커스텀 태그 등록
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterValidation("difficulty", func(fl validator.FieldLevel) bool {
			_, err := models.ParseDifficulty(fl.Field().String())
			return err == nil
		})
	})
}
