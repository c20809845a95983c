package serdser

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/momeni/role-bridge/pkg/core/cerr"
)

func Bind(c *gin.Context, req any, b binding.Binding) bool {
	switch err := c.ShouldBindWith(req, b).(type) {
	case *validator.InvalidValidationError:
		c.JSON(http.StatusInternalServerError, gin.H{
			"detail": err.Error(),
		})
	case validator.ValidationErrors:
		var nameToErrs map[string][]string
		for _, ferr := range err {
			AddErr(&nameToErrs, ferr.Field(), ferr.Error())
		}
		c.JSON(http.StatusBadRequest, nameToErrs)
	default:
		if err == nil {
			return true
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": err.Error(),
		})
	}
	return false
}

func AddErr(errs *map[string][]string, name string, msgs ...string) {
	if (*errs) == nil {
		*errs = make(map[string][]string)
	}
	if elist, ok := (*errs)[name]; !ok {
		(*errs)[name] = msgs
	} else {
		(*errs)[name] = append(elist, msgs...)
	}
}

func Assert(errs *map[string][]string, ok bool, name string, msgs ...string) bool {
	if ok {
		return true
	}
	AddErr(errs, name, msgs...)
	return false
}

// SerErr serializes the `err` error as a JSON response, mapping the
// core error types to their HTTP status codes. Unrecognized errors
// are reported as internal server errors.
func SerErr(c *gin.Context, err error) {
	c.JSON(errStatus(err), gin.H{
		"detail": err.Error(),
	})
}

func errStatus(err error) int {
	var (
		ce       *cerr.Error
		conflict *cerr.NamingConflict
		unknown  *cerr.UnknownRole
		denied   *cerr.PrivilegeDenied
	)
	switch {
	case errors.As(err, &ce):
		return ce.HTTPStatusCode
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &unknown):
		return http.StatusNotFound
	case errors.As(err, &denied):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
